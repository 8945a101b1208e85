package report

import (
	"fmt"
	"strings"
	"time"
)

// InvestmentDebate is the bull/bear exchange and the research manager's call.
type InvestmentDebate struct {
	BullHistory   OneOrMany `json:"bull_history,omitempty"`
	BearHistory   OneOrMany `json:"bear_history,omitempty"`
	JudgeDecision OneOrMany `json:"judge_decision,omitempty"`
}

// RiskDebate is the risk team's exchange and the risk manager's call.
type RiskDebate struct {
	AggressiveHistory   OneOrMany `json:"risky_history,omitempty"`
	ConservativeHistory OneOrMany `json:"safe_history,omitempty"`
	NeutralHistory      OneOrMany `json:"neutral_history,omitempty"`
	JudgeDecision       OneOrMany `json:"judge_decision,omitempty"`
}

// DebateState is the final state of one analysis run.
type DebateState struct {
	Subject            string    `json:"company_of_interest"`
	TradeDate          string    `json:"trade_date"`
	MarketReport       OneOrMany `json:"market_report,omitempty"`
	SentimentReport    OneOrMany `json:"sentiment_report,omitempty"`
	NewsReport         OneOrMany `json:"news_report,omitempty"`
	FundamentalsReport OneOrMany `json:"fundamentals_report,omitempty"`

	InvestmentDebate InvestmentDebate `json:"investment_debate_state"`
	RiskDebate       RiskDebate       `json:"risk_debate_state"`

	// Decision text in order of preference: risk manager's final decision,
	// research manager's synthesis, trader's proposal.
	FinalTradeDecision   OneOrMany `json:"final_trade_decision,omitempty"`
	InvestmentPlan       OneOrMany `json:"investment_plan,omitempty"`
	TraderInvestmentPlan OneOrMany `json:"trader_investment_plan,omitempty"`
}

// Source names the state field a decision was taken from.
type Source string

const (
	SourceFinalDecision  Source = "final_trade_decision"
	SourceInvestmentPlan Source = "investment_plan"
	SourceTraderPlan     Source = "trader_investment_plan"
	SourceNone           Source = ""
)

// Report is the rendered outcome of a run.
type Report struct {
	Subject     string    `json:"subject"`
	TradeDate   string    `json:"trade_date"`
	Decision    Decision  `json:"decision"`
	Source      Source    `json:"decision_source"`
	Substituted bool      `json:"substituted"`
	Markdown    string    `json:"markdown"`
	GeneratedAt time.Time `json:"generated_at"`
}

// DecisionText returns the first non-empty decision field and where it came from.
func (s DebateState) DecisionText() (string, Source) {
	candidates := []struct {
		text   OneOrMany
		source Source
	}{
		{s.FinalTradeDecision, SourceFinalDecision},
		{s.InvestmentPlan, SourceInvestmentPlan},
		{s.TraderInvestmentPlan, SourceTraderPlan},
	}
	for _, c := range candidates {
		if t := c.text.Text(); t != "" {
			return t, c.source
		}
	}
	return "", SourceNone
}

var substitutionNote = map[Source]string{
	SourceInvestmentPlan: "The final trade decision was empty. Showing the research manager's investment plan instead.",
	SourceTraderPlan:     "The final trade decision and the investment plan were empty. Showing the trader's proposal instead.",
}

// Generate builds the markdown report for state.
func Generate(state DebateState, now time.Time) Report {
	text, source := state.DecisionText()
	r := Report{
		Subject:     state.Subject,
		TradeDate:   state.TradeDate,
		Decision:    Hold,
		Source:      source,
		Substituted: source != SourceFinalDecision && source != SourceNone,
		GeneratedAt: now.UTC(),
	}
	if source != SourceNone {
		r.Decision = ExtractDecision(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Trading Analysis Report: %s\n\n", orUnknown(state.Subject))
	fmt.Fprintf(&b, "*Trade date: %s | Generated: %s*\n\n", orUnknown(state.TradeDate), r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "## Final Decision: **%s**\n\n", r.Decision)

	switch {
	case source == SourceNone:
		b.WriteString("> **Error:** no final trade decision, investment plan or trader proposal was produced. ")
		b.WriteString("The decision defaults to HOLD.\n\n")
	case r.Substituted:
		fmt.Fprintf(&b, "> **Note:** %s\n\n", substitutionNote[source])
		b.WriteString(text + "\n\n")
	default:
		b.WriteString(text + "\n\n")
	}

	writeSection(&b, "## Analyst Reports", []section{
		{"Market Analysis", state.MarketReport},
		{"Social Sentiment", state.SentimentReport},
		{"News Analysis", state.NewsReport},
		{"Fundamentals Analysis", state.FundamentalsReport},
	})
	writeSection(&b, "## Investment Debate", []section{
		{"Bull Researcher", state.InvestmentDebate.BullHistory},
		{"Bear Researcher", state.InvestmentDebate.BearHistory},
		{"Research Manager", state.InvestmentDebate.JudgeDecision},
	})
	if source != SourceInvestmentPlan {
		writeSection(&b, "## Investment Plan", []section{{"", state.InvestmentPlan}})
	}
	if source != SourceTraderPlan {
		writeSection(&b, "## Trader Proposal", []section{{"", state.TraderInvestmentPlan}})
	}
	writeSection(&b, "## Risk Debate", []section{
		{"Aggressive Analyst", state.RiskDebate.AggressiveHistory},
		{"Conservative Analyst", state.RiskDebate.ConservativeHistory},
		{"Neutral Analyst", state.RiskDebate.NeutralHistory},
		{"Risk Manager", state.RiskDebate.JudgeDecision},
	})

	r.Markdown = strings.TrimRight(b.String(), "\n") + "\n"
	return r
}

type section struct {
	title string
	body  OneOrMany
}

// writeSection writes heading and the non-empty sections below it. Nothing
// is written when all sections are empty.
func writeSection(b *strings.Builder, heading string, sections []section) {
	wrote := false
	for _, s := range sections {
		text := s.body.Text()
		if text == "" {
			continue
		}
		if !wrote {
			b.WriteString(heading + "\n\n")
			wrote = true
		}
		if s.title != "" {
			fmt.Fprintf(b, "### %s\n\n", s.title)
		}
		b.WriteString(text + "\n\n")
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
