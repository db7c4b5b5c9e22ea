package store

// BrokerTopics exposes the broker's topic count to black-box tests.
func BrokerTopics(s *Store) int {
	return s.broker.Topics()
}
