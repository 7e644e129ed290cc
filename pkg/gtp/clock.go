package gtp

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tecu23/gtp-bridge/pkg/messages"
)

// ServerClock reports the current time as the game server sees it.
type ServerClock interface {
	Now() time.Time
}

// ClockCommands encodes the clock into time_settings/time_left commands.
// buffer is added to the elapsed time of the side to move; the engine only
// passes it for the first move of a process. A nil control yields no commands.
func ClockCommands(tc messages.TimeControl, clk messages.Clock, now time.Time, buffer time.Duration, kgs bool) []string {
	nowMs := float64(now.UnixMilli())

	var blackOff, whiteOff float64
	elapsed := (float64(buffer.Milliseconds()) + nowMs - clk.LastMove) / 1000
	blackToMove := clk.CurrentPlayer == clk.BlackPlayerID
	if blackToMove {
		blackOff = elapsed
	} else {
		whiteOff = elapsed
	}
	current := whiteOff
	if blackToMove {
		current = blackOff
	}

	b, w := clk.BlackTime, clk.WhiteTime

	switch tc := tc.(type) {
	case messages.Byoyomi:
		if kgs {
			blackLeft, blackPeriods := kgsByoyomiLeft(tc, b, blackOff)
			whiteLeft, whitePeriods := kgsByoyomiLeft(tc, w, whiteOff)
			return []string{
				fmt.Sprintf("kgs-time_settings byoyomi %s %d %d", num(tc.MainTime), seconds(tc.PeriodTime-current), tc.Periods),
				timeLeft("black", blackLeft, blackPeriods),
				timeLeft("white", whiteLeft, whitePeriods),
			}
		}

		// The last period becomes a one stone canadian period, the rest are
		// folded into main time.
		blackLeft := seconds(b.ThinkingTime - blackOff + float64(b.Periods-1)*tc.PeriodTime)
		whiteLeft := seconds(w.ThinkingTime - whiteOff + float64(w.Periods-1)*tc.PeriodTime)

		currentLeft := whiteLeft
		if blackToMove {
			currentLeft = blackLeft
		}
		periodOff := current
		if currentLeft > 0 {
			periodOff = 0
		}

		return []string{
			fmt.Sprintf("time_settings %s %d 1", num(tc.MainTime+float64(tc.Periods-1)*tc.PeriodTime), seconds(tc.PeriodTime-periodOff)),
			byoyomiLeft("black", blackLeft, tc.PeriodTime, blackOff),
			byoyomiLeft("white", whiteLeft, tc.PeriodTime, whiteOff),
		}

	case messages.Canadian:
		settings := fmt.Sprintf("time_settings %s %s %d", num(tc.MainTime), num(tc.PeriodTime), tc.StonesPerPeriod)
		if kgs {
			settings = fmt.Sprintf("kgs-time_settings canadian %s %s %d", num(tc.MainTime), num(tc.PeriodTime), tc.StonesPerPeriod)
		}
		return []string{
			settings,
			canadianLeft("black", b, blackOff),
			canadianLeft("white", w, whiteOff),
		}

	case messages.Fischer:
		settings := fmt.Sprintf("time_settings %s %s 1", num(tc.InitialTime-tc.TimeIncrement), num(tc.TimeIncrement))
		if kgs {
			settings = fmt.Sprintf("kgs-time_settings canadian %s %s 1", num(tc.InitialTime-tc.TimeIncrement), num(tc.TimeIncrement))
		}
		return []string{
			settings,
			timeLeft("black", seconds(b.ThinkingTime-blackOff), 1),
			timeLeft("white", seconds(w.ThinkingTime-whiteOff), 1),
		}

	case messages.Simple:
		cmds := []string{fmt.Sprintf("time_settings 0 %s 1", num(tc.PerMove))}
		if b.Expiration > 0 {
			return append(cmds,
				timeLeft("black", seconds((b.Expiration-nowMs)/1000-blackOff), 1),
				timeLeft("white", 1, 1))
		}
		return append(cmds,
			timeLeft("black", 1, 1),
			timeLeft("white", seconds((w.Expiration-nowMs)/1000-whiteOff), 1))

	case messages.Absolute:
		settings := fmt.Sprintf("time_settings %s 0 0", num(tc.TotalTime))
		if kgs {
			settings = fmt.Sprintf("kgs-time_settings absolute %s", num(tc.TotalTime))
		}
		return []string{
			settings,
			timeLeft("black", seconds(b.ThinkingTime-blackOff), 0),
			timeLeft("white", seconds(w.ThinkingTime-whiteOff), 0),
		}
	}

	return nil
}

// kgsByoyomiLeft returns the time left and periods to report for one side.
// With less than half a period to think and spare periods, the current period
// is written off so a restarted engine does not rush.
func kgsByoyomiLeft(tc messages.Byoyomi, pc messages.PlayerClock, off float64) (int, int) {
	left := seconds(tc.PeriodTime - off)
	if pc.ThinkingTime > 0 {
		return seconds(pc.ThinkingTime - off), 0
	}

	periods := pc.Periods
	if periods > 1 && float64(left) < tc.PeriodTime/2 {
		left = seconds(math.Floor(tc.PeriodTime-off) + tc.PeriodTime)
		periods--
	}
	return left, periods
}

func byoyomiLeft(c string, left int, period, off float64) string {
	if left > 0 {
		return timeLeft(c, left, 0)
	}
	return timeLeft(c, seconds(period-off), 1)
}

func canadianLeft(c string, pc messages.PlayerClock, off float64) string {
	if left := seconds(pc.ThinkingTime - off); left > 0 {
		return timeLeft(c, left, 0)
	}
	return timeLeft(c, seconds(pc.BlockTime-off), pc.MovesLeft)
}

func timeLeft(c string, secs, stones int) string {
	return fmt.Sprintf("time_left %s %d %d", c, secs, stones)
}

// seconds floors to whole seconds, never below zero.
func seconds(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return int(math.Floor(v))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
