package expiry

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"penwatch/internal/push"
	"penwatch/internal/store"
	logx "penwatch/pkg/logx"
)

// logMessage is the fixed audit message stored with each log entry.
const logMessage = "Pensión próxima a vencer"

// Dispatcher multicasts one message per matched pension and appends a log
// entry per delivery. A failure for one pension's message is logged and does
// not abort the user's remaining pensions.
type Dispatcher struct {
	sender  push.Sender
	st      store.Store
	limiter *rate.Limiter
	log     logx.Logger

	// dedupWindow > 0 enables durable sent-markers keyed by
	// (user, pension, target date). Off by default: two runs on the same
	// day then produce two sends, which is the documented contract.
	dedupWindow time.Duration

	now func() time.Time
}

func NewDispatcher(sender push.Sender, st store.Store, ratePerSec int, dedupWindow time.Duration, log logx.Logger) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		sender: sender,
		st:     st,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:         log,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

// Dispatch sends one multicast per pension to all of the user's tokens and
// records each outcome. Returns the number of successful multicast calls.
func (d *Dispatcher) Dispatch(ctx context.Context, user store.UserRef, tokens []string, pensions []store.Pension, daysBefore int, targetDate string) int {
	if len(tokens) == 0 {
		return 0
	}

	sent := 0
	for _, p := range pensions {
		if ctx.Err() != nil {
			return sent
		}

		if d.dedupWindow > 0 && d.alreadySent(ctx, user.ID, p.ID, targetDate) {
			d.log.Debug("already sent within dedup window",
				logx.String("user", user.ID), logx.String("pension", p.ID))
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return sent
		}

		msg := BuildMessage(p, daysBefore, tokens)
		receipt, err := d.sender.SendMulticast(ctx, msg)
		if err != nil {
			// Isolated per pension: log and move on to the next one.
			d.log.Warn("multicast failed",
				logx.String("user", user.ID),
				logx.String("pension", p.ID),
				logx.Err(err))
			continue
		}
		sent++

		if err := d.st.AppendLog(ctx, store.LogEntry{
			UserID:         user.ID,
			UserEmail:      user.Email,
			PensionID:      p.ID,
			PensionName:    p.PersonName + " - " + p.CompanyName,
			ExpirationDate: p.ExpirationDate,
			SentAt:         d.now(),
			SuccessCount:   receipt.SuccessCount,
			FailureCount:   receipt.FailureCount,
			Message:        logMessage,
		}); err != nil {
			// Fire-and-forget: a log write failure never blocks delivery.
			d.log.Warn("notification log append failed",
				logx.String("user", user.ID), logx.String("pension", p.ID), logx.Err(err))
		}

		if d.dedupWindow > 0 {
			if err := d.st.PutMarker(ctx, markerKey(user.ID, p.ID, targetDate), d.now().Add(d.dedupWindow)); err != nil {
				d.log.Warn("sent marker write failed", logx.String("user", user.ID), logx.Err(err))
			}
		}

		d.log.Info("notification sent",
			logx.String("user", user.Email),
			logx.String("pension", p.PersonName),
			logx.Int("success", receipt.SuccessCount),
			logx.Int("failure", receipt.FailureCount))
	}
	return sent
}

func (d *Dispatcher) alreadySent(ctx context.Context, userID, pensionID, targetDate string) bool {
	until, ok, err := d.st.GetMarker(ctx, markerKey(userID, pensionID, targetDate))
	if err != nil {
		// Fail-open: a marker read failure must not suppress the alert.
		d.log.Warn("sent marker read failed", logx.String("user", userID), logx.Err(err))
		return false
	}
	return ok && d.now().Before(until)
}

func markerKey(userID, pensionID, targetDate string) string {
	return userID + "|" + pensionID + "|" + targetDate
}
