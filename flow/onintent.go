package flow

import "encoding/json"

// UnmarshalYAML accepts either a single scalar intent name or a sequence of
// names, per spec.md §3 ("onIntent: name | names[]").
func (o *OnIntent) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*o = OnIntent{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*o = OnIntent(many)
	return nil
}

// MarshalYAML renders a single-element OnIntent as a scalar and anything
// else as a sequence, mirroring how flow authors write it.
func (o OnIntent) MarshalYAML() (any, error) {
	if len(o) == 1 {
		return o[0], nil
	}
	return []string(o), nil
}

// UnmarshalJSON mirrors UnmarshalYAML for the JSON wire representation used
// by the flow CRUD HTTP surface (spec.md §6).
func (o *OnIntent) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = OnIntent{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*o = OnIntent(many)
	return nil
}

// MarshalJSON mirrors MarshalYAML for the JSON wire representation.
func (o OnIntent) MarshalJSON() ([]byte, error) {
	if len(o) == 1 {
		return json.Marshal(o[0])
	}
	return json.Marshal([]string(o))
}
