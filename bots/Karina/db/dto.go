package db

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"karina/bots/Karina/reminder"
)

// row is a reminder as both drivers store it. Delays and context are JSON.
type row struct {
	ID            string
	Category      string
	Message       string
	ScheduledTime time.Time
	Delays        []byte
	Severity      string
	Active        bool
	Confirmed     bool
	DeferredUntil *time.Time
	Context       []byte
	UpdatedAt     time.Time
}

func toRow(r *reminder.Reminder) (row, error) {
	delays := r.EscalationDelays
	if delays == nil {
		delays = []int{}
	}
	d, err := json.Marshal(delays)
	if err != nil {
		return row{}, errors.Wrap(err, "failed encoding escalation delays")
	}

	ctx := r.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	c, err := json.Marshal(ctx)
	if err != nil {
		return row{}, errors.Wrap(err, "failed encoding context")
	}

	return row{
		ID:            r.ID,
		Category:      string(r.Category),
		Message:       r.Message,
		ScheduledTime: r.ScheduledTime,
		Delays:        d,
		Severity:      r.Severity.String(),
		Active:        r.Active,
		Confirmed:     r.Confirmed,
		DeferredUntil: r.DeferredUntil,
		Context:       c,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func (w row) toReminder() (*reminder.Reminder, error) {
	category, err := reminder.ParseCategory(w.Category)
	if err != nil {
		return nil, err
	}
	severity, err := reminder.ParseSeverity(w.Severity)
	if err != nil {
		return nil, err
	}

	r := &reminder.Reminder{
		ID:            w.ID,
		Category:      category,
		Message:       w.Message,
		ScheduledTime: w.ScheduledTime,
		Severity:      severity,
		Active:        w.Active,
		Confirmed:     w.Confirmed,
		DeferredUntil: w.DeferredUntil,
		UpdatedAt:     w.UpdatedAt,
	}

	if len(w.Delays) > 0 {
		if err := json.Unmarshal(w.Delays, &r.EscalationDelays); err != nil {
			return nil, errors.Wrapf(err, "bad escalation delays of %s", w.ID)
		}
	}
	if len(r.EscalationDelays) == 0 {
		r.EscalationDelays = nil
	}

	ctx, err := decodeContext(w.Context)
	if err != nil {
		return nil, errors.Wrapf(err, "bad context of %s", w.ID)
	}
	r.Context = ctx
	return r, nil
}

// decodeContext reads the JSON context back into the shape it was written
// from: whole numbers come back as int and an empty object as nil.
func decodeContext(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var ctx map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&ctx); err != nil {
		return nil, err
	}
	if len(ctx) == 0 {
		return nil, nil
	}

	for k, v := range ctx {
		ctx[k] = fromJSON(v)
	}
	return ctx, nil
}

func fromJSON(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = fromJSON(e)
		}
	case []any:
		for i, e := range v {
			v[i] = fromJSON(e)
		}
	}
	return v
}
