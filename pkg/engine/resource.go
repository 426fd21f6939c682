package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// ResourceID is the opaque, unique key of a resource. It embeds the name of the owning agent:
//
//	<entity_type>[<agent_name>,<attribute>=<value>]
//
// optionally followed by a version suffix ",v=<n>".
type ResourceID string

var resourceIDPattern = regexp.MustCompile(
	`^(?P<type>[A-Za-z_][\w-]*(?:::[A-Za-z_][\w-]*)*)\[(?P<agent>[^,\[\]]+),(?P<attr>[^=\[\]]+)=(?P<value>.+)\](?:,v=(?P<version>[0-9]+))?$`,
)

// ResourceIdentity is the parsed form of a ResourceID.
type ResourceIdentity struct {
	EntityType string
	AgentName  string
	Attribute  string
	Value      string
	// Version is zero when the id carries no version suffix.
	Version int
}

// ParseResourceID parses a resource id into its identity.
func ParseResourceID(id ResourceID) (ResourceIdentity, error) {
	match := resourceIDPattern.FindStringSubmatch(string(id))
	if match == nil {
		return ResourceIdentity{}, NewValidationError(fmt.Sprintf("malformed resource id %q", id)).
			WithResource(string(id))
	}

	identity := ResourceIdentity{
		EntityType: match[resourceIDPattern.SubexpIndex("type")],
		AgentName:  match[resourceIDPattern.SubexpIndex("agent")],
		Attribute:  match[resourceIDPattern.SubexpIndex("attr")],
		Value:      match[resourceIDPattern.SubexpIndex("value")],
	}
	if v := match[resourceIDPattern.SubexpIndex("version")]; v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return ResourceIdentity{}, NewValidationError(fmt.Sprintf("malformed version in resource id %q", id)).
				WithResource(string(id))
		}
		identity.Version = version
	}
	return identity, nil
}

// ID renders the identity without its version suffix.
func (r ResourceIdentity) ID() ResourceID {
	return ResourceID(fmt.Sprintf("%s[%s,%s=%s]", r.EntityType, r.AgentName, r.Attribute, r.Value))
}

// String renders the identity, including the version suffix when present.
func (r ResourceIdentity) String() string {
	if r.Version > 0 {
		return fmt.Sprintf("%s,v=%d", r.ID(), r.Version)
	}
	return string(r.ID())
}

// IDSet is a set of resource ids.
type IDSet map[ResourceID]struct{}

// NewIDSet builds a set from the given ids.
func NewIDSet(ids ...ResourceID) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Add inserts id into the set.
func (s IDSet) Add(id ResourceID) {
	s[id] = struct{}{}
}

// Remove deletes id from the set.
func (s IDSet) Remove(id ResourceID) {
	delete(s, id)
}

// Has reports whether id is in the set.
func (s IDSet) Has(id ResourceID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []ResourceID {
	ids := make([]ResourceID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a shallow copy of the set.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Attribute keys with a meaning to the engine.
const (
	// AttributeSendEvent marks a resource whose changes must trigger its dependents.
	AttributeSendEvent = "send_event"

	// AttributeReceiveEvents lets a resource opt out of being triggered by its requirements.
	AttributeReceiveEvents = "receive_events"
)

// ResourceIntent is the immutable desired state of one resource.
type ResourceIntent struct {
	resourceID    ResourceID
	attributeHash string
	attributes    map[string]any
	identity      ResourceIdentity
}

// NewResourceIntent validates the resource id and freezes the intent.
func NewResourceIntent(resourceID ResourceID, attributeHash string, attributes map[string]any) (ResourceIntent, error) {
	identity, err := ParseResourceID(resourceID)
	if err != nil {
		return ResourceIntent{}, err
	}
	if attributeHash == "" {
		return ResourceIntent{}, NewValidationError("attribute hash is required").WithResource(string(resourceID))
	}

	frozen := make(map[string]any, len(attributes))
	for k, v := range attributes {
		frozen[k] = v
	}

	return ResourceIntent{
		resourceID:    resourceID,
		attributeHash: attributeHash,
		attributes:    frozen,
		identity:      identity,
	}, nil
}

// ID returns the resource id.
func (i ResourceIntent) ID() ResourceID { return i.resourceID }

// AttributeHash returns the content hash of the attributes.
func (i ResourceIntent) AttributeHash() string { return i.attributeHash }

// Identity returns the parsed resource id.
func (i ResourceIntent) Identity() ResourceIdentity { return i.identity }

// AgentName returns the name of the agent that owns the resource.
func (i ResourceIntent) AgentName() string { return i.identity.AgentName }

// Attributes returns a copy of the desired attributes.
func (i ResourceIntent) Attributes() map[string]any {
	out := make(map[string]any, len(i.attributes))
	for k, v := range i.attributes {
		out[k] = v
	}
	return out
}

// SendsEvents reports whether a change to this resource must trigger its dependents.
func (i ResourceIntent) SendsEvents() bool {
	return boolAttribute(i.attributes, AttributeSendEvent, false)
}

// ReceivesEvents reports whether this resource is triggered by changes of its requirements.
func (i ResourceIntent) ReceivesEvents() bool {
	return boolAttribute(i.attributes, AttributeReceiveEvents, true)
}

func boolAttribute(attributes map[string]any, key string, fallback bool) bool {
	if v, ok := attributes[key].(bool); ok {
		return v
	}
	return fallback
}

// HashAttributes computes the content hash used for change detection.
// encoding/json sorts map keys, so the hash is stable across map iteration order.
func HashAttributes(attributes map[string]any) (string, error) {
	data, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("failed to serialize attributes: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ResourceState is the mutable operational state of one resource.
type ResourceState struct {
	// Compliance tells whether the resource matches its latest intent.
	Compliance Compliance `json:"compliance"`

	// LastHandlerRun is the outcome of the last deploy.
	LastHandlerRun HandlerResult `json:"last_handler_run"`

	// Blocked tells whether the resource is eligible for deployment.
	Blocked Blocked `json:"blocked"`

	// LastDeployed is when the last deploy finished, if any.
	LastDeployed *time.Time `json:"last_deployed,omitempty"`

	// LastHandlerRunCompliant tells whether the last deploy was both successful and judged compliant.
	// Nil when unknown.
	LastHandlerRunCompliant *bool `json:"last_handler_run_compliant,omitempty"`
}

// Validate checks the per-resource invariants.
func (s *ResourceState) Validate() error {
	if err := s.Compliance.Validate(); err != nil {
		return err
	}
	if err := s.LastHandlerRun.Validate(); err != nil {
		return err
	}
	if err := s.Blocked.Validate(); err != nil {
		return err
	}
	if s.Compliance == ComplianceUndefined && s.LastHandlerRunCompliant != nil && *s.LastHandlerRunCompliant {
		return fmt.Errorf("undefined resource cannot have a compliant last handler run")
	}
	return nil
}

// ToHandlerState derives the externally reported status. The first matching rule wins.
func (s *ResourceState) ToHandlerState() (HandlerState, error) {
	switch {
	case s.Compliance == ComplianceUndefined:
		return HandlerStateUndefined, nil
	case s.Blocked == BlockedBlocked:
		return HandlerStateSkippedForUndefined, nil
	case s.Compliance == ComplianceHasUpdate:
		return HandlerStateAvailable, nil
	case s.LastHandlerRun == HandlerResultSkipped:
		return HandlerStateSkipped, nil
	case s.LastHandlerRun == HandlerResultFailed:
		return HandlerStateFailed, nil
	case s.Compliance == ComplianceNonCompliant:
		return HandlerStateNonCompliant, nil
	case s.LastHandlerRun == HandlerResultSuccessful:
		return HandlerStateDeployed, nil
	default:
		return "", NewInternalError(fmt.Sprintf(
			"unreachable handler state: compliance=%s last_handler_run=%s blocked=%s",
			s.Compliance, s.LastHandlerRun, s.Blocked))
	}
}

func (s *ResourceState) clone() *ResourceState {
	out := *s
	if s.LastDeployed != nil {
		t := *s.LastDeployed
		out.LastDeployed = &t
	}
	if s.LastHandlerRunCompliant != nil {
		b := *s.LastHandlerRunCompliant
		out.LastHandlerRunCompliant = &b
	}
	return &out
}

func boolPtr(b bool) *bool {
	return &b
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
