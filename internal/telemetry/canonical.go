package telemetry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// DomainTelemetry separates telemetry digests from other hashes.
const DomainTelemetry = "morphogen/telemetry/v1"

// MarshalCanonical produces canonical JSON: sorted keys, no insignificant
// whitespace, no HTML escaping, NFC strings.
//
// CRITICAL: floats and nulls are rejected. Canonical output feeds golden
// snapshots, where float formatting noise would make fixtures brittle.
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case bool:
		return []byte(strconv.FormatBool(val)), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalCanonical(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalCanonicalString(k)
			if err != nil {
				return nil, err
			}
			vb, err := MarshalCanonical(val[k])
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case float64, float32:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// TraceEntry is the float-free projection of an event used for golden
// snapshots.
func TraceEntry(ev Event) map[string]any {
	m := map[string]any{
		"seq":  ev.Seq,
		"step": ev.Step,
		"kind": string(ev.Kind),
	}
	for k, v := range map[string]string{
		"cell":    ev.Cell,
		"peer":    ev.Peer,
		"topic":   ev.Topic,
		"reason":  ev.Reason,
		"lineage": ev.Lineage,
	} {
		if v != "" {
			m[k] = v
		}
	}
	if ev.Scenario != nil {
		m["scenario"] = ev.Scenario.Name
	}
	if ev.Summary != nil {
		m["cells"] = ev.Summary.CellCount
		m["edges"] = ev.Summary.Topology.Edges
		m["isolated"] = ev.Summary.Topology.Isolated
		m["blacklisted"] = ev.Summary.Topology.Blacklisted
	}
	return m
}

// CanonicalTrace renders events as a canonical JSON array of trace entries.
func CanonicalTrace(events []Event) ([]byte, error) {
	list := make([]any, len(events))
	for i, ev := range events {
		list[i] = TraceEntry(ev)
	}
	return MarshalCanonical(list)
}

// Digest fingerprints a full event stream, floats included. Equal inputs
// to a run must produce equal digests.
func Digest(events []Event) (string, error) {
	h := sha256.New()
	h.Write([]byte(DomainTelemetry))
	h.Write([]byte{0x00})
	for i, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return "", fmt.Errorf("digest event %d: %w", i, err)
		}
		h.Write(line)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
