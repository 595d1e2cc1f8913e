package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known event fields. Everything else riding on an event is treated as
// opaque payload and carried through the pipeline untouched.
const (
	FieldSource      = "source"
	FieldRecordID    = "id"
	FieldBatchTime   = "batch_time"
	FieldExpires     = "expires"
	FieldSeriesID    = "series_id"
	FieldSeriesTotal = "series_total"
	FieldSeriesNo    = "series_no"
	FieldURL         = "url"
	FieldFQDN        = "fqdn"
	FieldAddress     = "address"
	FieldType        = "type"
	FieldReplaces    = "replaces"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Event is one decoded bus message. Events are kept as generic JSON objects
// so nested payload structures survive full round trips; the typed accessors
// below cover the fields the pipeline itself consumes.
type Event map[string]any

// Address is one entry of an event's address list.
type Address struct {
	IP  string `json:"ip"`
	CC  string `json:"cc,omitempty"`
	ASN uint   `json:"asn,omitempty"`
}

func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(map[string]any(e))
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

func (e Event) stringField(key string) string {
	raw, ok := e[key]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}

func (e Event) intField(key string) (int, bool) {
	switch v := e[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func (e Event) Source() string { return e.stringField(FieldSource) }

// SourceParts splits the dotted source identifier into label and channel.
func (e Event) SourceParts() (label, channel string, ok bool) {
	src := e.Source()
	idx := strings.IndexByte(src, '.')
	if idx <= 0 || idx == len(src)-1 {
		return "", "", false
	}
	return src[:idx], src[idx+1:], true
}

func (e Event) RecordID() string { return e.stringField(FieldRecordID) }

func (e Event) SeriesID() string { return e.stringField(FieldSeriesID) }

func (e Event) SeriesTotal() (int, bool) { return e.intField(FieldSeriesTotal) }

func (e Event) SeriesNo() (int, bool) { return e.intField(FieldSeriesNo) }

func (e Event) BatchTime() (time.Time, error) {
	return ParseTimestamp(e.stringField(FieldBatchTime))
}

func (e Event) Expires() (time.Time, error) {
	return ParseTimestamp(e.stringField(FieldExpires))
}

func (e Event) Type() string { return e.stringField(FieldType) }

func (e Event) Replaces() string { return e.stringField(FieldReplaces) }

func (e Event) URL() string { return e.stringField(FieldURL) }

func (e Event) FQDN() string { return e.stringField(FieldFQDN) }

// IPs returns the sorted, de-duplicated IP strings of the address list.
func (e Event) IPs() []string {
	addrs := e.Addresses()
	if len(addrs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(addrs))
	ips := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IP == "" {
			continue
		}
		if _, dup := seen[addr.IP]; dup {
			continue
		}
		seen[addr.IP] = struct{}{}
		ips = append(ips, addr.IP)
	}
	sort.Strings(ips)
	return ips
}

func (e Event) Addresses() []Address {
	raw, ok := e[FieldAddress].([]any)
	if !ok {
		return nil
	}
	addrs := make([]Address, 0, len(raw))
	for _, entry := range raw {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		addr := Address{}
		if ip, ok := obj["ip"].(string); ok {
			addr.IP = ip
		}
		if cc, ok := obj["cc"].(string); ok {
			addr.CC = cc
		}
		switch asn := obj["asn"].(type) {
		case float64:
			addr.ASN = uint(asn)
		case int:
			addr.ASN = uint(asn)
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

func (e Event) SetAddresses(addrs []Address) {
	list := make([]any, 0, len(addrs))
	for _, addr := range addrs {
		obj := map[string]any{"ip": addr.IP}
		if addr.CC != "" {
			obj["cc"] = addr.CC
		}
		if addr.ASN != 0 {
			obj["asn"] = float64(addr.ASN)
		}
		list = append(list, obj)
	}
	e[FieldAddress] = list
}

// StripSeriesBookkeeping removes the delivery-internal series fields before an
// event leaves the pipeline.
func (e Event) StripSeriesBookkeeping() {
	delete(e, FieldSeriesID)
	delete(e, FieldSeriesTotal)
	delete(e, FieldSeriesNo)
}

// Clone returns a deep copy so stored payloads never alias inbound messages.
func (e Event) Clone() Event {
	if e == nil {
		return nil
	}
	return Event(cloneMap(map[string]any(e)))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// ParseTimestamp accepts the timestamp shapes upstream feeds actually emit.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
