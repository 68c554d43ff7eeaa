// Package validate checks candidates against the envelope and the kind's
// payload schema before anything reaches the ledger.
//
// In strict mode an invalid candidate is rejected with a validation error
// listing every violation. In lenient mode it is quarantined to the reject
// log and the caller continues.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/schema"
)

// Mode selects how invalid candidates are handled.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeLenient:
		return ModeLenient, nil
	default:
		return "", fmt.Errorf("unknown validation mode %q", s)
	}
}

// Validator validates candidates. It is safe for concurrent use.
type Validator struct {
	registry *schema.Registry
	mode     Mode
	rejects  *RejectLog
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithRejectLog sets the quarantine log used in lenient mode.
func WithRejectLog(rl *RejectLog) Option {
	return func(v *Validator) {
		v.rejects = rl
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithNow sets the clock used to timestamp rejections.
func WithNow(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New creates a validator. Lenient mode requires a reject log.
func New(registry *schema.Registry, mode Mode, opts ...Option) (*Validator, error) {
	v := &Validator{
		registry: registry,
		mode:     mode,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if registry == nil {
		return nil, fmt.Errorf("validator: registry is required")
	}
	if mode != ModeStrict && mode != ModeLenient {
		return nil, fmt.Errorf("validator: unknown mode %q", mode)
	}
	if mode == ModeLenient && v.rejects == nil {
		return nil, fmt.Errorf("validator: lenient mode requires a reject log")
	}
	return v, nil
}

// Mode returns the configured mode.
func (v *Validator) Mode() Mode {
	return v.mode
}

// Validate checks c and returns an unsequenced event (no sequence, no
// checksum) or a *faults.Error with code VALIDATION listing every
// violation. It never writes anything.
func (v *Validator) Validate(c ir.Candidate) (ir.Event, error) {
	var violations []faults.Violation
	add := func(path, msg string) {
		violations = append(violations, faults.Violation{Path: path, Message: msg})
	}

	if strings.TrimSpace(c.EventID) == "" {
		add("event_id", "must be non-empty")
	}

	var ts time.Time
	if c.Timestamp == "" {
		add("timestamp", "required field missing")
	} else if parsed, err := ir.ParseTimestamp(c.Timestamp); err != nil {
		add("timestamp", fmt.Sprintf("invalid RFC 3339 timestamp: %v", err))
	} else {
		ts = parsed
	}

	kind := ir.Kind(c.Kind)
	var ks *schema.KindSchema
	switch {
	case c.Kind == "":
		add("kind", "required field missing")
	case !kind.Known():
		add("kind", fmt.Sprintf("unknown event kind %q", c.Kind))
	default:
		var ok bool
		if ks, ok = v.registry.Lookup(kind); !ok {
			add("kind", fmt.Sprintf("no schema registered for %s", kind))
		}
	}

	if c.Actor != nil && strings.TrimSpace(c.Actor.Module) == "" {
		add("actor.module", "must be non-empty when actor is present")
	}

	payload, pv := decodePayload(c.Payload)
	violations = append(violations, pv...)

	if payload != nil && ks != nil {
		reported := make(map[string]bool, len(pv))
		for _, x := range pv {
			reported[x.Path] = true
		}
		for _, x := range ks.Check(payload) {
			if !reported[x.Path] {
				violations = append(violations, x)
			}
		}
	}

	if len(violations) > 0 {
		return ir.Event{}, faults.NewValidation("validate", violations)
	}

	if c.Actor != nil || c.SessionID != "" {
		meta, _ := payload.Object("meta")
		meta = meta.Clone()
		if meta == nil {
			meta = ir.IRObject{}
		}
		if c.Actor != nil {
			meta["actor"] = ir.IRString(c.Actor.Module)
		}
		if c.SessionID != "" {
			meta["session_id"] = ir.IRString(c.SessionID)
		}
		payload["meta"] = meta
	}

	return ir.Event{
		EventID:   c.EventID,
		Timestamp: ts,
		Kind:      kind,
		Payload:   payload,
	}, nil
}

// Admit validates c according to the configured mode.
//
// It returns (event, true, nil) for a valid candidate. In strict mode an
// invalid candidate yields the validation error. In lenient mode it is
// quarantined and Admit returns (zero, false, nil); only a failure to write
// the reject log is returned as an error.
func (v *Validator) Admit(c ir.Candidate) (ir.Event, bool, error) {
	ev, err := v.Validate(c)
	if err == nil {
		return ev, true, nil
	}
	if v.mode == ModeStrict || !faults.IsValidation(err) {
		return ir.Event{}, false, err
	}

	violations := faults.ViolationsOf(err)
	if qerr := v.rejects.Append(c, violations, v.now()); qerr != nil {
		return ir.Event{}, false, qerr
	}
	v.logger.Info("candidate quarantined",
		zap.String("event_id", c.EventID),
		zap.String("kind", c.Kind),
		zap.Int("violations", len(violations)))
	return ir.Event{}, false, nil
}

// decodePayload parses the raw payload into an IRObject, reporting floats,
// nulls and non-object payloads as violations at their paths. Offending
// values are dropped from the returned object so the schema check can still
// run on the rest.
func decodePayload(raw json.RawMessage) (ir.IRObject, []faults.Violation) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, []faults.Violation{{Path: "payload", Message: "required field missing"}}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, []faults.Violation{{Path: "payload", Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, []faults.Violation{{Path: "payload", Message: "must be a JSON object"}}
	}

	var violations []faults.Violation
	out := convertObject("payload", obj, &violations)
	return out, violations
}

func convertObject(path string, obj map[string]any, vs *[]faults.Violation) ir.IRObject {
	out := make(ir.IRObject, len(obj))
	for k, val := range obj {
		if iv := convertValue(path+"."+k, val, vs); iv != nil {
			out[k] = iv
		}
	}
	return out
}

func convertValue(path string, val any, vs *[]faults.Violation) ir.IRValue {
	switch x := val.(type) {
	case nil:
		*vs = append(*vs, faults.Violation{Path: path, Message: "null is not allowed; omit the field instead"})
	case bool:
		return ir.IRBool(x)
	case string:
		return ir.IRString(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil || strings.ContainsAny(x.String(), ".eE") {
			*vs = append(*vs, faults.Violation{Path: path, Message: fmt.Sprintf("non-integer number %s; scores are integer millionths", x)})
			return nil
		}
		return ir.IRInt(n)
	case []any:
		arr := make(ir.IRArray, 0, len(x))
		for i, elem := range x {
			if iv := convertValue(fmt.Sprintf("%s[%d]", path, i), elem, vs); iv != nil {
				arr = append(arr, iv)
			}
		}
		return arr
	case map[string]any:
		return convertObject(path, x, vs)
	default:
		*vs = append(*vs, faults.Violation{Path: path, Message: fmt.Sprintf("unsupported value %T", val)})
	}
	return nil
}
