package api

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Payload is a request body whose fields keep insertion order. The request MAC and the
// envelope JSON both follow that order.
type Payload = orderedmap.OrderedMap[string, any]

// NewPayload builds a Payload from alternating key/value arguments. A trailing key without
// a value is ignored.
func NewPayload(kv ...any) *Payload {
	p := orderedmap.New[string, any]()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		p.Set(key, kv[i+1])
	}
	return p
}

func clonePayload(p *Payload) *Payload {
	out := orderedmap.New[string, any]()
	if p == nil {
		return out
	}
	for pair := p.Oldest(); pair != nil; pair = pair.Next() {
		out.Set(pair.Key, pair.Value)
	}
	return out
}
