package stage

import (
	"fmt"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"
)

// Stage names of the trading workflow.
const (
	StageMarket       = "market"
	StageSocial       = "social"
	StageNews         = "news"
	StageFundamentals = "fundamentals"
	StageResearch     = "research"
	StageTrading      = "trading"
)

// AnalystOutputs are the four output types the research stage consumes.
var AnalystOutputs = []string{
	model.OutputMarketAnalysis,
	model.OutputSocialAnalysis,
	model.OutputNewsAnalysis,
	model.OutputFundamentalsAnalysis,
}

// TradingStages builds the six-stage trading workflow for symbol. The four
// analyst stages start immediately, research waits for all four analyses
// and trading waits for the research report. Stages are assigned workers
// from workerIDs in order, wrapping around if there are fewer than six.
func TradingStages(d Dispatcher, workerIDs []string, symbol string, inputTimeout time.Duration) ([]Spec, error) {
	if len(workerIDs) == 0 {
		return nil, fmt.Errorf("trading stages need at least one worker")
	}

	defs := []struct {
		name   string
		output string
		inputs []string
		task   string
	}{
		{StageMarket, model.OutputMarketAnalysis, nil,
			"Analyze recent price action, volume and technical indicators for %s."},
		{StageSocial, model.OutputSocialAnalysis, nil,
			"Summarize social media sentiment about %s."},
		{StageNews, model.OutputNewsAnalysis, nil,
			"Summarize the latest news that could move %s."},
		{StageFundamentals, model.OutputFundamentalsAnalysis, nil,
			"Assess the fundamentals and valuation of %s."},
		{StageResearch, model.OutputResearchReport, AnalystOutputs,
			"Weigh the bull and bear case for %s using the analyst reports below and write a research report."},
		{StageTrading, model.OutputTradingDecision, []string{model.OutputResearchReport},
			"Decide BUY, SELL or HOLD for %s with position size and risk controls, based on the research report below."},
	}

	specs := make([]Spec, len(defs))
	for i, def := range defs {
		worker := workerIDs[i%len(workerIDs)]
		specs[i] = Spec{
			Config: Config{
				Name:         def.name,
				OutputType:   def.output,
				Inputs:       def.inputs,
				InputTimeout: inputTimeout,
			},
			Analyze: DispatchAnalyze(d, worker, fmt.Sprintf(def.task, symbol)),
		}
	}
	return specs, nil
}
