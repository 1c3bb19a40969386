package config

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Duration is a non-negative time.Duration read from YAML or env. It
// accepts Go duration strings ("90s", "1h30m") and bare numbers, which
// are seconds: `stale_after: 3600` and CONTINUITY_MODES_STALE_AFTER=3600
// both mean one hour.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return d.setSeconds(secs)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: use a value like 90s or 1h, or a number of seconds", s)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) setSeconds(secs float64) error {
	if secs < 0 || math.IsNaN(secs) {
		return fmt.Errorf("duration cannot be negative: %v", secs)
	}
	if secs > float64(math.MaxInt64)/float64(time.Second) {
		return fmt.Errorf("duration too large: %vs", secs)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON renders the duration as a string so `--json` output reads
// the same as the config file.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

var durationType = reflect.TypeOf(Duration(0))

// numericSecondsHook decodes YAML numbers into Duration as seconds. Without
// it a bare `3600` would land in the int64 as nanoseconds.
func numericSecondsHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		var secs float64
		switch v := reflect.ValueOf(data); from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			secs = float64(v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			secs = float64(v.Uint())
		case reflect.Float32, reflect.Float64:
			secs = v.Float()
		default:
			return data, nil
		}
		var d Duration
		if err := d.setSeconds(secs); err != nil {
			return nil, err
		}
		return d, nil
	}
}
