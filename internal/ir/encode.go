package ir

import (
	"encoding/json"
	"fmt"
	"math"
)

// Entity encoding. The durable form of every entity is the canonical JSON of
// its body with the id field omitted; the id is the tagged hash of exactly
// those bytes. Decode always recomputes the id, so a mismatch between key and
// value in the store is surfaced as tampering.

func idField[T id32](id T) Value {
	return Str(Hex(id))
}

func quantityField(q uint64) (Value, error) {
	if q > math.MaxInt64 {
		return nil, fmt.Errorf("quantity %d exceeds canonical integer range", q)
	}
	return Int(int64(q)), nil
}

func flowsValue(flows []ResourceFlow) (Arr, error) {
	arr := make(Arr, 0, len(flows))
	for _, f := range flows {
		q, err := quantityField(f.Quantity)
		if err != nil {
			return nil, err
		}
		o := Obj{
			"resource_type": Str(f.ResourceType),
			"quantity":      q,
			"domain_id":     idField(f.DomainID),
		}
		if f.Burn {
			o["burn"] = Bool(true)
		}
		arr = append(arr, o)
	}
	return arr, nil
}

// resourceBody builds the canonical body of a resource (id excluded).
func resourceBody(r Resource) (Obj, error) {
	q, err := quantityField(r.Quantity)
	if err != nil {
		return nil, err
	}
	return Obj{
		"name":          Str(r.Name),
		"domain_id":     idField(r.DomainID),
		"resource_type": Str(r.ResourceType),
		"quantity":      q,
		"owner":         idField(r.Owner),
		"timestamp":     Int(r.Timestamp),
	}, nil
}

// ComputeResourceID returns the content id of a resource body.
func ComputeResourceID(r Resource) (ResourceID, error) {
	body, err := resourceBody(r)
	if err != nil {
		return ResourceID{}, err
	}
	id, err := hashObject(TagResource, body)
	return ResourceID(id), err
}

// EncodeResource returns the canonical bytes of the resource body.
func EncodeResource(r Resource) ([]byte, error) {
	body, err := resourceBody(r)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(body)
}

// DecodeResource rebuilds a resource from canonical bytes and recomputes its
// id.
func DecodeResource(data []byte) (Resource, error) {
	var wire struct {
		Name         string `json:"name"`
		DomainID     string `json:"domain_id"`
		ResourceType string `json:"resource_type"`
		Quantity     uint64 `json:"quantity"`
		Owner        string `json:"owner"`
		Timestamp    int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Resource{}, fmt.Errorf("decode resource: %w", err)
	}
	domainID, err := ParseID[DomainID](wire.DomainID)
	if err != nil {
		return Resource{}, fmt.Errorf("decode resource: domain: %w", err)
	}
	owner, err := ParseID[IdentityID](wire.Owner)
	if err != nil {
		return Resource{}, fmt.Errorf("decode resource: owner: %w", err)
	}
	r := Resource{
		Name:         wire.Name,
		DomainID:     domainID,
		ResourceType: wire.ResourceType,
		Quantity:     wire.Quantity,
		Owner:        owner,
		Timestamp:    wire.Timestamp,
	}
	r.ID, err = ComputeResourceID(r)
	if err != nil {
		return Resource{}, err
	}
	return r, nil
}

func capabilityBody(c Capability) Obj {
	body := Obj{
		"grants":    Int(int64(c.Grants)),
		"subject":   idField(c.Subject),
		"domain_id": idField(c.DomainID),
		"timestamp": Int(c.Timestamp),
	}
	if !IsZero(c.ResourceID) {
		body["resource_id"] = idField(c.ResourceID)
	}
	if !IsZero(c.ContentHash) {
		body["content_hash"] = idField(c.ContentHash)
	}
	if !IsZero(c.Parent) {
		body["parent"] = idField(c.Parent)
	}
	return body
}

// ComputeCapabilityID returns the content id of a capability body.
func ComputeCapabilityID(c Capability) (CapabilityID, error) {
	id, err := hashObject(TagCapability, capabilityBody(c))
	return CapabilityID(id), err
}

// EncodeCapability returns the canonical bytes of the capability body.
func EncodeCapability(c Capability) ([]byte, error) {
	return MarshalCanonical(capabilityBody(c))
}

// DecodeCapability rebuilds a capability from canonical bytes and recomputes
// its id.
func DecodeCapability(data []byte) (Capability, error) {
	var wire struct {
		Grants      int64  `json:"grants"`
		Subject     string `json:"subject"`
		ResourceID  string `json:"resource_id"`
		ContentHash string `json:"content_hash"`
		Parent      string `json:"parent"`
		DomainID    string `json:"domain_id"`
		Timestamp   int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Capability{}, fmt.Errorf("decode capability: %w", err)
	}
	c := Capability{
		Grants:    Grants(wire.Grants),
		Timestamp: wire.Timestamp,
	}
	var err error
	if c.Subject, err = ParseID[IdentityID](wire.Subject); err != nil {
		return Capability{}, fmt.Errorf("decode capability: subject: %w", err)
	}
	if c.DomainID, err = ParseID[DomainID](wire.DomainID); err != nil {
		return Capability{}, fmt.Errorf("decode capability: domain: %w", err)
	}
	if wire.ResourceID != "" {
		if c.ResourceID, err = ParseID[ResourceID](wire.ResourceID); err != nil {
			return Capability{}, fmt.Errorf("decode capability: resource: %w", err)
		}
	}
	if wire.ContentHash != "" {
		if c.ContentHash, err = ParseID[EntityID](wire.ContentHash); err != nil {
			return Capability{}, fmt.Errorf("decode capability: content hash: %w", err)
		}
	}
	if wire.Parent != "" {
		if c.Parent, err = ParseID[CapabilityID](wire.Parent); err != nil {
			return Capability{}, fmt.Errorf("decode capability: parent: %w", err)
		}
	}
	if c.ID, err = ComputeCapabilityID(c); err != nil {
		return Capability{}, err
	}
	return c, nil
}

func effectBody(e Effect) (Obj, error) {
	inputs, err := flowsValue(e.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := flowsValue(e.Outputs)
	if err != nil {
		return nil, err
	}
	body := Obj{
		"name":        Str(e.Name),
		"domain_id":   idField(e.DomainID),
		"effect_type": Str(e.EffectType),
		"inputs":      inputs,
		"outputs":     outputs,
		"timestamp":   Int(e.Timestamp),
	}
	if !IsZero(e.Expression) {
		body["expression"] = idField(e.Expression)
	}
	if !IsZero(e.ScopedBy) {
		body["scoped_by"] = idField(e.ScopedBy)
	}
	if !IsZero(e.IntentID) {
		body["intent_id"] = idField(e.IntentID)
	}
	if e.SourceTypedDomain != "" {
		body["source_typed_domain"] = Str(e.SourceTypedDomain)
	}
	if e.TargetTypedDomain != "" {
		body["target_typed_domain"] = Str(e.TargetTypedDomain)
	}
	if e.GasHint != 0 {
		q, err := quantityField(e.GasHint)
		if err != nil {
			return nil, err
		}
		body["gas_hint"] = q
	}
	return body, nil
}

// ComputeEffectID returns the content id of an effect body.
func ComputeEffectID(e Effect) (EffectID, error) {
	body, err := effectBody(e)
	if err != nil {
		return EffectID{}, err
	}
	id, err := hashObject(TagEffect, body)
	return EffectID(id), err
}

// EncodeEffect returns the canonical bytes of the effect body.
func EncodeEffect(e Effect) ([]byte, error) {
	body, err := effectBody(e)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(body)
}

type wireFlow struct {
	ResourceType string `json:"resource_type"`
	Quantity     uint64 `json:"quantity"`
	DomainID     string `json:"domain_id"`
	Burn         bool   `json:"burn"`
}

func decodeFlows(wire []wireFlow) ([]ResourceFlow, error) {
	flows := make([]ResourceFlow, 0, len(wire))
	for _, wf := range wire {
		domainID, err := ParseID[DomainID](wf.DomainID)
		if err != nil {
			return nil, fmt.Errorf("flow domain: %w", err)
		}
		flows = append(flows, ResourceFlow{
			ResourceType: wf.ResourceType,
			Quantity:     wf.Quantity,
			DomainID:     domainID,
			Burn:         wf.Burn,
		})
	}
	return flows, nil
}

// DecodeEffect rebuilds an effect from canonical bytes and recomputes its id.
func DecodeEffect(data []byte) (Effect, error) {
	var wire struct {
		Name              string     `json:"name"`
		DomainID          string     `json:"domain_id"`
		EffectType        string     `json:"effect_type"`
		Inputs            []wireFlow `json:"inputs"`
		Outputs           []wireFlow `json:"outputs"`
		Expression        string     `json:"expression"`
		ScopedBy          string     `json:"scoped_by"`
		IntentID          string     `json:"intent_id"`
		SourceTypedDomain string     `json:"source_typed_domain"`
		TargetTypedDomain string     `json:"target_typed_domain"`
		GasHint           uint64     `json:"gas_hint"`
		Timestamp         int64      `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Effect{}, fmt.Errorf("decode effect: %w", err)
	}
	e := Effect{
		Name:              wire.Name,
		EffectType:        wire.EffectType,
		SourceTypedDomain: wire.SourceTypedDomain,
		TargetTypedDomain: wire.TargetTypedDomain,
		GasHint:           wire.GasHint,
		Timestamp:         wire.Timestamp,
	}
	var err error
	if e.DomainID, err = ParseID[DomainID](wire.DomainID); err != nil {
		return Effect{}, fmt.Errorf("decode effect: domain: %w", err)
	}
	if e.Inputs, err = decodeFlows(wire.Inputs); err != nil {
		return Effect{}, fmt.Errorf("decode effect: inputs: %w", err)
	}
	if e.Outputs, err = decodeFlows(wire.Outputs); err != nil {
		return Effect{}, fmt.Errorf("decode effect: outputs: %w", err)
	}
	if wire.Expression != "" {
		if e.Expression, err = ParseID[ExprID](wire.Expression); err != nil {
			return Effect{}, fmt.Errorf("decode effect: expression: %w", err)
		}
	}
	if wire.ScopedBy != "" {
		if e.ScopedBy, err = ParseID[HandlerID](wire.ScopedBy); err != nil {
			return Effect{}, fmt.Errorf("decode effect: scoped_by: %w", err)
		}
	}
	if wire.IntentID != "" {
		if e.IntentID, err = ParseID[IntentID](wire.IntentID); err != nil {
			return Effect{}, fmt.Errorf("decode effect: intent: %w", err)
		}
	}
	if e.ID, err = ComputeEffectID(e); err != nil {
		return Effect{}, err
	}
	return e, nil
}

func intentBody(i Intent) (Obj, error) {
	inputs, err := flowsValue(i.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := flowsValue(i.Outputs)
	if err != nil {
		return nil, err
	}
	body := Obj{
		"name":      Str(i.Name),
		"domain_id": idField(i.DomainID),
		"priority":  Int(int64(i.Priority)),
		"inputs":    inputs,
		"outputs":   outputs,
		"timestamp": Int(i.Timestamp),
	}
	if !IsZero(i.Expression) {
		body["expression"] = idField(i.Expression)
	}
	if i.Hint != "" {
		body["hint"] = Str(i.Hint)
	}
	if i.TargetTypedDomain != "" {
		body["target_typed_domain"] = Str(i.TargetTypedDomain)
	}
	return body, nil
}

// ComputeIntentID returns the content id of an intent body.
func ComputeIntentID(i Intent) (IntentID, error) {
	body, err := intentBody(i)
	if err != nil {
		return IntentID{}, err
	}
	id, err := hashObject(TagIntent, body)
	return IntentID(id), err
}

// EncodeIntent returns the canonical bytes of the intent body.
func EncodeIntent(i Intent) ([]byte, error) {
	body, err := intentBody(i)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(body)
}

// DecodeIntent rebuilds an intent from canonical bytes and recomputes its id.
func DecodeIntent(data []byte) (Intent, error) {
	var wire struct {
		Name              string     `json:"name"`
		DomainID          string     `json:"domain_id"`
		Priority          uint8      `json:"priority"`
		Inputs            []wireFlow `json:"inputs"`
		Outputs           []wireFlow `json:"outputs"`
		Expression        string     `json:"expression"`
		Hint              string     `json:"hint"`
		TargetTypedDomain string     `json:"target_typed_domain"`
		Timestamp         int64      `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	i := Intent{
		Name:              wire.Name,
		Priority:          wire.Priority,
		Hint:              wire.Hint,
		TargetTypedDomain: wire.TargetTypedDomain,
		Timestamp:         wire.Timestamp,
	}
	var err error
	if i.DomainID, err = ParseID[DomainID](wire.DomainID); err != nil {
		return Intent{}, fmt.Errorf("decode intent: domain: %w", err)
	}
	if i.Inputs, err = decodeFlows(wire.Inputs); err != nil {
		return Intent{}, fmt.Errorf("decode intent: inputs: %w", err)
	}
	if i.Outputs, err = decodeFlows(wire.Outputs); err != nil {
		return Intent{}, fmt.Errorf("decode intent: outputs: %w", err)
	}
	if wire.Expression != "" {
		if i.Expression, err = ParseID[ExprID](wire.Expression); err != nil {
			return Intent{}, fmt.Errorf("decode intent: expression: %w", err)
		}
	}
	if i.ID, err = ComputeIntentID(i); err != nil {
		return Intent{}, err
	}
	return i, nil
}

func handlerBody(h Handler) Obj {
	body := Obj{
		"name":         Str(h.Name),
		"domain_id":    idField(h.DomainID),
		"handles_type": Str(h.HandlesType),
		"priority":     Int(int64(h.Priority)),
		"timestamp":    Int(h.Timestamp),
	}
	if !IsZero(h.Expression) {
		body["expression"] = idField(h.Expression)
	}
	return body
}

// ComputeHandlerID returns the content id of a handler body.
func ComputeHandlerID(h Handler) (HandlerID, error) {
	id, err := hashObject(TagHandler, handlerBody(h))
	return HandlerID(id), err
}

// EncodeHandler returns the canonical bytes of the handler body.
func EncodeHandler(h Handler) ([]byte, error) {
	return MarshalCanonical(handlerBody(h))
}

// DecodeHandler rebuilds a handler from canonical bytes and recomputes its id.
func DecodeHandler(data []byte) (Handler, error) {
	var wire struct {
		Name        string `json:"name"`
		DomainID    string `json:"domain_id"`
		HandlesType string `json:"handles_type"`
		Priority    uint32 `json:"priority"`
		Expression  string `json:"expression"`
		Timestamp   int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Handler{}, fmt.Errorf("decode handler: %w", err)
	}
	h := Handler{
		Name:        wire.Name,
		HandlesType: wire.HandlesType,
		Priority:    wire.Priority,
		Timestamp:   wire.Timestamp,
	}
	var err error
	if h.DomainID, err = ParseID[DomainID](wire.DomainID); err != nil {
		return Handler{}, fmt.Errorf("decode handler: domain: %w", err)
	}
	if wire.Expression != "" {
		if h.Expression, err = ParseID[ExprID](wire.Expression); err != nil {
			return Handler{}, fmt.Errorf("decode handler: expression: %w", err)
		}
	}
	if h.ID, err = ComputeHandlerID(h); err != nil {
		return Handler{}, err
	}
	return h, nil
}

// NewDomainID derives a domain id from its name. Domains are named
// namespaces; the id is stable across restarts.
func NewDomainID(name string) DomainID {
	return DomainID(HashWithTag(TagDomain, []byte(name)))
}
