package server

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/tecu23/gtp-bridge/internal/config"
	"github.com/tecu23/gtp-bridge/pkg/messages"
)

// Evaluate returns why a challenge must be declined. An empty result
// accepts it. Every rule is checked so the log shows all reasons at once.
func Evaluate(policy config.AdmissionConfig, n messages.Notification) []string {
	var reasons []string
	reject := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	tc := n.TimeControl
	system := tc.Name()
	user := n.User

	if policy.RejectNew {
		reject("not accepting new challenges")
	}
	if !slices.Contains(policy.Rules, n.Rules) {
		reject("unhandled rules %q", n.Rules)
	}
	if n.Width != n.Height {
		reject("board %dx%d is not square", n.Width, n.Height)
	}
	if !slices.Contains(policy.BoardSizes, n.Width) {
		reject("board size %d not allowed", n.Width)
	}

	switch {
	case banned(policy.Ban, user):
		reject("%s (%d) is banned", user.Username, user.ID)
	case n.Ranked && banned(policy.BanRanked, user):
		reject("%s (%d) is banned from ranked games", user.Username, user.ID)
	case !n.Ranked && banned(policy.BanUnranked, user):
		reject("%s (%d) is banned from unranked games", user.Username, user.ID)
	}

	if !slices.Contains(policy.Speeds, tc.Speed) {
		reject("speed %q not allowed", tc.Speed)
	}
	if !slices.Contains(policy.TimeControls, system) {
		reject("time control %q not allowed", system)
	}

	if policy.MinMainTime > 0 || policy.MaxMainTime > 0 {
		main, ok := mainTime(tc)
		switch {
		case !ok:
			reject("main time limits not supported for time control %q", system)
		case policy.MinMainTime > 0 && main < policy.MinMainTime:
			reject("main time %v below minimum %v", main, policy.MinMainTime)
		case policy.MaxMainTime > 0 && main > policy.MaxMainTime:
			reject("main time %v above maximum %v", main, policy.MaxMainTime)
		}
	}

	for _, pt := range periodTimes(tc) {
		if policy.MinPeriodTime > 0 && pt < policy.MinPeriodTime {
			reject("period time %v below minimum %v", pt, policy.MinPeriodTime)
			break
		}
		if policy.MaxPeriodTime > 0 && pt > policy.MaxPeriodTime {
			reject("period time %v above maximum %v", pt, policy.MaxPeriodTime)
			break
		}
	}

	// only byoyomi has a number of periods
	if system == messages.SystemByoyomi {
		checkPeriods := func(scope string, min int, max *int) {
			if min > 0 && tc.Periods < min {
				reject("%d%s periods below minimum %d", tc.Periods, scope, min)
			}
			if max != nil && tc.Periods > *max {
				reject("%d%s periods above maximum %d", tc.Periods, scope, *max)
			}
		}
		checkPeriods("", policy.MinPeriods, policy.MaxPeriods)
		if n.Ranked {
			checkPeriods(" ranked", policy.MinPeriodsRanked, policy.MaxPeriodsRanked)
		} else {
			checkPeriods(" unranked", policy.MinPeriodsUnranked, policy.MaxPeriodsUnranked)
		}
	}

	if policy.MinRanking != nil && user.Ranking < *policy.MinRanking {
		reject("ranking %v too low", user.Ranking)
	}
	if policy.MaxRanking != nil && user.Ranking > *policy.MaxRanking {
		reject("ranking %v too high", user.Ranking)
	}
	if policy.ProOnly && !user.Professional {
		reject("%s is not a professional", user.Username)
	}

	if policy.RankedOnly && !n.Ranked {
		reject("ranked games only")
	}
	if policy.UnrankedOnly && n.Ranked {
		reject("unranked games only")
	}

	checkHandicap := func(scope string, max *int) {
		if max != nil && n.Handicap > *max {
			reject("handicap %d above%s maximum %d", n.Handicap, scope, *max)
		}
	}
	checkHandicap("", policy.MaxHandicap)
	if n.Ranked {
		checkHandicap(" ranked", policy.MaxHandicapRanked)
	} else {
		checkHandicap(" unranked", policy.MaxHandicapUnranked)
	}

	return reasons
}

func banned(list []string, user messages.ChallengeUser) bool {
	return slices.Contains(list, user.Username) || slices.Contains(list, strconv.FormatInt(user.ID, 10))
}

// mainTime is the time bank before any period or increment applies.
func mainTime(tc messages.RawTimeControl) (float64, bool) {
	switch tc.Name() {
	case messages.SystemAbsolute:
		return tc.TotalTime, true
	case messages.SystemFischer:
		return tc.InitialTime, true
	case messages.SystemByoyomi, messages.SystemCanadian:
		return tc.MainTime, true
	}
	return 0, false
}

// periodTimes lists every per move allowance the control carries, with
// canadian periods spread over their stones.
func periodTimes(tc messages.RawTimeControl) []float64 {
	var out []float64
	if tc.StonesPerPeriod > 0 {
		out = append(out, tc.PeriodTime/float64(tc.StonesPerPeriod))
	} else if tc.PeriodTime > 0 {
		out = append(out, tc.PeriodTime)
	}
	if tc.TimeIncrement > 0 {
		out = append(out, tc.TimeIncrement)
	}
	if tc.PerMove > 0 {
		out = append(out, tc.PerMove)
	}
	return out
}
