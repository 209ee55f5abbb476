package retry

import (
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"redelivery/internal/types"
)

// DeathDatetimeLayout is the ISO-8601 layout of x-death-datetime.
const DeathDatetimeLayout = "2006-01-02T15:04:05.000000"

// DefaultDeathReasonMaxLen bounds x-death-reason.
const DefaultDeathReasonMaxLen = 1000

// ReadMetadata extracts the retry bookkeeping from msg's headers. The second
// result reports whether x-retry-count was present. The original routing key
// falls back to the delivery routing key for a message that has never failed.
func ReadMetadata(msg types.Message) (types.DeliveryMetadata, bool) {
	meta := types.DeliveryMetadata{OriginalRoutingKey: msg.RoutingKey}

	count, hasCount := headerInt(msg.Headers, types.HeaderRetryCount)
	if hasCount && count > 0 {
		meta.AttemptCount = count
	}
	if rk, ok := msg.Headers[types.HeaderOriginalRoutingKey].(string); ok && rk != "" {
		meta.OriginalRoutingKey = rk
	}
	if delay, ok := headerInt(msg.Headers, types.HeaderRetryDelay); ok && delay > 0 {
		meta.ComputedDelaySeconds = delay
	}
	return meta, hasCount
}

// RetryHeaders encodes meta as a fresh header table. Every value is an
// integer or a string.
func RetryHeaders(meta types.DeliveryMetadata) types.Headers {
	return types.Headers{
		types.HeaderRetryCount:         int64(meta.AttemptCount),
		types.HeaderOriginalRoutingKey: meta.OriginalRoutingKey,
		types.HeaderRetryDelay:         int64(meta.ComputedDelaySeconds),
	}
}

// DeadLetterHeaders encodes rec as a fresh header table. x-retry-count is
// only written when the inbound message carried one.
func DeadLetterHeaders(rec types.DeadLetterRecord) types.Headers {
	h := types.Headers{
		types.HeaderDeathReason:        rec.DeathReason,
		types.HeaderDeathTimestamp:     rec.DeathTime.Unix(),
		types.HeaderDeathDatetime:      rec.DeathTime.Format(DeathDatetimeLayout),
		types.HeaderOriginalRoutingKey: rec.OriginalRoutingKey,
	}
	if rec.HasRetryCount {
		h[types.HeaderRetryCount] = int64(rec.RetryCountAtDeath)
	}
	return h
}

// ReadDeadLetter decodes a message taken off the dead-letter queue. Missing
// headers leave the corresponding fields zero.
func ReadDeadLetter(msg types.Message) types.DeadLetterRecord {
	rec := types.DeadLetterRecord{Message: msg, OriginalRoutingKey: msg.RoutingKey}

	if reason, ok := msg.Headers[types.HeaderDeathReason].(string); ok {
		rec.DeathReason = reason
	}
	if rk, ok := msg.Headers[types.HeaderOriginalRoutingKey].(string); ok && rk != "" {
		rec.OriginalRoutingKey = rk
	}
	if ts, ok := headerInt(msg.Headers, types.HeaderDeathTimestamp); ok {
		rec.DeathTime = time.Unix(int64(ts), 0).UTC()
	} else if dt, ok := msg.Headers[types.HeaderDeathDatetime].(string); ok {
		if parsed, err := time.Parse(DeathDatetimeLayout, dt); err == nil {
			rec.DeathTime = parsed
		}
	}
	if count, ok := headerInt(msg.Headers, types.HeaderRetryCount); ok {
		rec.RetryCountAtDeath = count
		rec.HasRetryCount = true
	}
	return rec
}

// TruncateReason shortens reason to at most max characters without splitting
// a UTF-8 sequence.
func TruncateReason(reason string, max int) string {
	if max <= 0 || utf8.RuneCountInString(reason) <= max {
		return reason
	}
	n := 0
	for i := range reason {
		if n == max {
			return reason[:i]
		}
		n++
	}
	return reason
}

// headerInt reads an integer header. Producers in other languages encode
// integers with varying widths, and some send strings or whole-number floats.
func headerInt(h types.Headers, key string) (int, bool) {
	v, ok := h[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float32:
		return wholeFloat(float64(n))
	case float64:
		return wholeFloat(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func wholeFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
