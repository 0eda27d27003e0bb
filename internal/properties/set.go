package properties

import "encoding/json"

// Set indexes properties by technical name. Later entries win on duplicate
// names, matching the instance > plugin > static override order the gateway
// returns them in.
type Set struct {
	ordered []Property
	byName  map[string]Property
}

// NewSet wraps an ordered property list.
func NewSet(props []Property) Set {
	set := Set{
		ordered: append([]Property(nil), props...),
		byName:  make(map[string]Property, len(props)),
	}
	for _, p := range props {
		if p == nil {
			continue
		}
		set.byName[p.Meta().TechnicalName] = p
	}
	return set
}

// UnmarshalJSON decodes a JSON array of property documents.
func (s *Set) UnmarshalJSON(raw []byte) error {
	props, err := DecodeList(raw)
	if err != nil {
		return err
	}
	*s = NewSet(props)
	return nil
}

// Len reports the number of properties, duplicates included.
func (s Set) Len() int { return len(s.ordered) }

// All returns the properties in upstream order.
func (s Set) All() []Property {
	return append([]Property(nil), s.ordered...)
}

// Get returns the property with the given technical name.
func (s Set) Get(name string) (Property, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// String returns a STRING property's value.
func (s Set) String(name string) (string, bool) {
	p, ok := lookup[StringProperty](s, name)
	return p.Value, ok
}

// PixelTag returns a PIXEL_TAG property's markup.
func (s Set) PixelTag(name string) (string, bool) {
	p, ok := lookup[PixelTagProperty](s, name)
	return p.Value, ok
}

// Bool returns a BOOLEAN property's value.
func (s Set) Bool(name string) (bool, bool) {
	p, ok := lookup[BoolProperty](s, name)
	return p.Value, ok
}

// Int returns an INT property's value.
func (s Set) Int(name string) (int64, bool) {
	p, ok := lookup[IntProperty](s, name)
	return p.Value, ok
}

// Double returns a DOUBLE property's value.
func (s Set) Double(name string) (float64, bool) {
	p, ok := lookup[DoubleProperty](s, name)
	return p.Value, ok
}

// URL returns a URL property's target.
func (s Set) URL(name string) (string, bool) {
	p, ok := lookup[URLProperty](s, name)
	return p.URL, ok
}

func (s Set) Asset(name string) (AssetProperty, bool) { return lookup[AssetProperty](s, name) }

func (s Set) DataFile(name string) (DataFileProperty, bool) { return lookup[DataFileProperty](s, name) }

func (s Set) AdLayout(name string) (AdLayoutProperty, bool) { return lookup[AdLayoutProperty](s, name) }

func (s Set) StyleSheet(name string) (StyleSheetProperty, bool) {
	return lookup[StyleSheetProperty](s, name)
}

func (s Set) Recommender(name string) (RecommenderProperty, bool) {
	return lookup[RecommenderProperty](s, name)
}

func (s Set) NativeData(name string) (NativeDataProperty, bool) {
	return lookup[NativeDataProperty](s, name)
}

func (s Set) NativeImage(name string) (NativeImageProperty, bool) {
	return lookup[NativeImageProperty](s, name)
}

func (s Set) NativeTitle(name string) (NativeTitleProperty, bool) {
	return lookup[NativeTitleProperty](s, name)
}

func (s Set) IdentifyingResources(name string) ([]IdentifyingResource, bool) {
	p, ok := lookup[IdentifyingResourcesProperty](s, name)
	return p.Resources, ok
}

// Values flattens the set into plain values keyed by technical name, for
// template and expression contexts.
func (s Set) Values() map[string]any {
	out := make(map[string]any, len(s.byName))
	for name, p := range s.byName {
		out[name] = plainValue(p)
	}
	return out
}

func lookup[T Property](s Set, name string) (T, bool) {
	var zero T
	p, ok := s.byName[name]
	if !ok {
		return zero, false
	}
	typed, ok := p.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

func plainValue(p Property) any {
	switch v := p.(type) {
	case StringProperty:
		return v.Value
	case PixelTagProperty:
		return v.Value
	case BoolProperty:
		return v.Value
	case IntProperty:
		return v.Value
	case DoubleProperty:
		return v.Value
	case URLProperty:
		return v.URL
	case AssetProperty:
		return map[string]any{"asset_id": v.AssetID, "file_path": v.FilePath, "original_file_name": v.OriginalFileName}
	case DataFileProperty:
		return map[string]any{"uri": v.URI, "file_name": v.FileName}
	case AdLayoutProperty:
		return map[string]any{"id": v.ID, "version": v.Version}
	case StyleSheetProperty:
		return map[string]any{"id": v.ID, "version": v.Version}
	case RecommenderProperty:
		return v.RecommenderID
	case NativeDataProperty:
		return map[string]any{"required_display": v.RequiredDisplay, "type": v.DataType, "value": v.Value}
	case NativeImageProperty:
		return map[string]any{"required_display": v.RequiredDisplay, "type": v.ImageType, "width": v.Width, "height": v.Height, "file_path": v.FilePath}
	case NativeTitleProperty:
		return map[string]any{"required_display": v.RequiredDisplay, "value": v.Value}
	case IdentifyingResourcesProperty:
		out := make([]any, 0, len(v.Resources))
		for _, r := range v.Resources {
			out = append(out, map[string]any{"type": r.Type, "provider": r.Provider, "identifier": r.Identifier})
		}
		return out
	case UnknownProperty:
		var decoded any
		if err := json.Unmarshal(v.Raw, &decoded); err != nil {
			return string(v.Raw)
		}
		return decoded
	default:
		return nil
	}
}
