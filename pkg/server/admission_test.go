package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tecu23/gtp-bridge/internal/config"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

func intPtr(n int) *int { return &n }

func floatPtr(f float64) *float64 { return &f }

func baseChallenge() messages.Notification {
	return messages.Notification{
		ID:          "n1",
		Type:        "challenge",
		ChallengeID: 501,
		Rules:       "japanese",
		Ranked:      true,
		Width:       19,
		Height:      19,
		User:        messages.ChallengeUser{ID: 5, Username: "alice", Ranking: 20},
		TimeControl: messages.RawTimeControl{
			TimeControl: "byoyomi",
			Speed:       "live",
			MainTime:    600,
			PeriodTime:  30,
			Periods:     5,
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		policy   func(*config.AdmissionConfig)
		mutate   func(*messages.Notification)
		declines bool
	}{
		{name: "default accepts"},
		{
			name:     "reject new",
			policy:   func(p *config.AdmissionConfig) { p.RejectNew = true },
			declines: true,
		},
		{
			name:     "unknown rules",
			mutate:   func(n *messages.Notification) { n.Rules = "ing" },
			declines: true,
		},
		{
			name:     "not square",
			mutate:   func(n *messages.Notification) { n.Height = 13 },
			declines: true,
		},
		{
			name:     "size not allowed",
			mutate:   func(n *messages.Notification) { n.Width, n.Height = 7, 7 },
			declines: true,
		},
		{
			name:     "banned by name",
			policy:   func(p *config.AdmissionConfig) { p.Ban = []string{"alice"} },
			declines: true,
		},
		{
			name:     "banned by id",
			policy:   func(p *config.AdmissionConfig) { p.Ban = []string{"5"} },
			declines: true,
		},
		{
			name:   "unranked ban ignores ranked games",
			policy: func(p *config.AdmissionConfig) { p.BanUnranked = []string{"alice"} },
		},
		{
			name:     "ranked ban",
			policy:   func(p *config.AdmissionConfig) { p.BanRanked = []string{"alice"} },
			declines: true,
		},
		{
			name:     "speed not allowed",
			policy:   func(p *config.AdmissionConfig) { p.Speeds = []string{"correspondence"} },
			declines: true,
		},
		{
			name:     "time control not allowed",
			policy:   func(p *config.AdmissionConfig) { p.TimeControls = []string{"fischer"} },
			declines: true,
		},
		{
			name:     "main time too short",
			policy:   func(p *config.AdmissionConfig) { p.MinMainTime = 900 },
			declines: true,
		},
		{
			name:     "main time too long",
			policy:   func(p *config.AdmissionConfig) { p.MaxMainTime = 300 },
			declines: true,
		},
		{
			name:   "absolute uses total time",
			policy: func(p *config.AdmissionConfig) { p.MinMainTime = 900 },
			mutate: func(n *messages.Notification) {
				n.TimeControl = messages.RawTimeControl{TimeControl: "absolute", Speed: "live", TotalTime: 1200}
			},
		},
		{
			name:   "simple has no main time",
			policy: func(p *config.AdmissionConfig) { p.MaxMainTime = 900 },
			mutate: func(n *messages.Notification) {
				n.TimeControl = messages.RawTimeControl{TimeControl: "simple", Speed: "live", PerMove: 30}
			},
			declines: true,
		},
		{
			name:     "period too short",
			policy:   func(p *config.AdmissionConfig) { p.MinPeriodTime = 60 },
			declines: true,
		},
		{
			name:   "canadian period spread over stones",
			policy: func(p *config.AdmissionConfig) { p.MinPeriodTime = 15 },
			mutate: func(n *messages.Notification) {
				n.TimeControl = messages.RawTimeControl{
					TimeControl: "canadian", Speed: "live", MainTime: 600, PeriodTime: 300, StonesPerPeriod: 25,
				}
			},
			declines: true,
		},
		{
			name:     "fischer increment too long",
			policy:   func(p *config.AdmissionConfig) { p.MaxPeriodTime = 20 },
			mutate:   func(n *messages.Notification) { n.TimeControl = messages.RawTimeControl{TimeControl: "fischer", Speed: "live", InitialTime: 600, TimeIncrement: 30} },
			declines: true,
		},
		{
			name:     "too few periods",
			policy:   func(p *config.AdmissionConfig) { p.MinPeriods = 10 },
			declines: true,
		},
		{
			name:     "zero max periods",
			policy:   func(p *config.AdmissionConfig) { p.MaxPeriods = intPtr(0) },
			declines: true,
		},
		{
			name:   "unranked period limit ignores ranked games",
			policy: func(p *config.AdmissionConfig) { p.MaxPeriodsUnranked = intPtr(1) },
		},
		{
			name:   "periods only apply to byoyomi",
			policy: func(p *config.AdmissionConfig) { p.MinPeriods = 3 },
			mutate: func(n *messages.Notification) {
				n.TimeControl = messages.RawTimeControl{TimeControl: "fischer", Speed: "live", InitialTime: 600, TimeIncrement: 30}
			},
		},
		{
			name:     "rank too low",
			policy:   func(p *config.AdmissionConfig) { p.MinRanking = floatPtr(25) },
			declines: true,
		},
		{
			name:     "rank too high",
			policy:   func(p *config.AdmissionConfig) { p.MaxRanking = floatPtr(15) },
			declines: true,
		},
		{
			name:     "pro only",
			policy:   func(p *config.AdmissionConfig) { p.ProOnly = true },
			declines: true,
		},
		{
			name:     "unranked only",
			policy:   func(p *config.AdmissionConfig) { p.UnrankedOnly = true },
			declines: true,
		},
		{
			name:     "ranked only",
			policy:   func(p *config.AdmissionConfig) { p.RankedOnly = true },
			mutate:   func(n *messages.Notification) { n.Ranked = false },
			declines: true,
		},
		{
			name:     "zero max handicap",
			policy:   func(p *config.AdmissionConfig) { p.MaxHandicap = intPtr(0) },
			mutate:   func(n *messages.Notification) { n.Handicap = 2 },
			declines: true,
		},
		{
			name:   "ranked handicap limit ignores unranked games",
			policy: func(p *config.AdmissionConfig) { p.MaxHandicapRanked = intPtr(0) },
			mutate: func(n *messages.Notification) { n.Handicap, n.Ranked = 2, false },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := defaultAdmission()
			if tt.policy != nil {
				tt.policy(&policy)
			}
			n := baseChallenge()
			if tt.mutate != nil {
				tt.mutate(&n)
			}

			reasons := Evaluate(policy, n)
			if tt.declines {
				assert.NotEmpty(t, reasons)
			} else {
				assert.Empty(t, reasons)
			}
		})
	}
}

func TestEvaluateReportsEveryReason(t *testing.T) {
	policy := defaultAdmission()
	policy.RejectNew = true
	policy.ProOnly = true

	n := baseChallenge()
	n.Rules = "ing"
	n.Height = 9

	assert.Len(t, Evaluate(policy, n), 4)
}
