package domain

import (
	"encoding/json"
	"errors"
)

// ErrInvalidProperties is returned when terms carry malformed properties.
var ErrInvalidProperties = errors.New("terms properties must be a JSON object")

// Terms captures one side's view of a deal: the properties it advertises
// and the constraints the other side must satisfy.
type Terms struct {
	properties  map[string]any
	constraints string
}

// NewTerms creates terms from a property map and a constraint expression.
func NewTerms(properties map[string]any, constraints string) Terms {
	if properties == nil {
		properties = map[string]any{}
	}
	return Terms{properties: properties, constraints: constraints}
}

// ParseTerms creates terms from a raw JSON property document.
func ParseTerms(propertiesJSON []byte, constraints string) (Terms, error) {
	properties := map[string]any{}
	if len(propertiesJSON) > 0 {
		if err := json.Unmarshal(propertiesJSON, &properties); err != nil {
			return Terms{}, ErrInvalidProperties
		}
	}
	return Terms{properties: properties, constraints: constraints}, nil
}

// Properties returns a copy of the property map.
func (t Terms) Properties() map[string]any {
	out := make(map[string]any, len(t.properties))
	for k, v := range t.properties {
		out[k] = v
	}
	return out
}

// Property looks up a single property by key.
func (t Terms) Property(key string) (any, bool) {
	v, ok := t.properties[key]
	return v, ok
}

// Constraints returns the constraint expression.
func (t Terms) Constraints() string {
	return t.constraints
}

// PropertiesJSON serializes the property map.
func (t Terms) PropertiesJSON() ([]byte, error) {
	if t.properties == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.properties)
}

// Equals compares terms by serialized properties and constraints.
func (t Terms) Equals(other Terms) bool {
	if t.constraints != other.constraints {
		return false
	}
	a, err := t.PropertiesJSON()
	if err != nil {
		return false
	}
	b, err := other.PropertiesJSON()
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
