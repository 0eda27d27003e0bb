// Package properties models plugin instance properties as a closed set of
// value shapes discriminated by property_type.
package properties

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Origin tells which layer defined a property.
type Origin string

const (
	OriginPluginStatic Origin = "PLUGIN_STATIC"
	OriginPlugin       Origin = "PLUGIN"
	OriginInstance     Origin = "INSTANCE"
)

// Type is the property_type discriminant.
type Type string

const (
	TypeString               Type = "STRING"
	TypeBoolean              Type = "BOOLEAN"
	TypeInt                  Type = "INT"
	TypeDouble               Type = "DOUBLE"
	TypeURL                  Type = "URL"
	TypeAsset                Type = "ASSET"
	TypeAssetFile            Type = "ASSET_FILE"
	TypeDataFile             Type = "DATA_FILE"
	TypeAdLayout             Type = "AD_LAYOUT"
	TypeStyleSheet           Type = "STYLE_SHEET"
	TypePixelTag             Type = "PIXEL_TAG"
	TypeRecommender          Type = "RECOMMENDER"
	TypeNativeData           Type = "NATIVE_DATA"
	TypeNativeImage          Type = "NATIVE_IMAGE"
	TypeNativeTitle          Type = "NATIVE_TITLE"
	TypeIdentifyingResources Type = "IDENTIFYING_RESOURCE_SHAPE"
)

// Header is shared by every property shape.
type Header struct {
	TechnicalName string `json:"technical_name"`
	Origin        Origin `json:"origin"`
	Writable      bool   `json:"writable"`
	Deletable     bool   `json:"deletable"`
	PropertyType  Type   `json:"property_type"`
}

// Property is implemented only by the shapes declared in this package.
type Property interface {
	Meta() Header
	sealed()
}

type (
	// StringProperty carries STRING values.
	StringProperty struct {
		Header
		Value string
	}
	// PixelTagProperty carries raw tracking markup.
	PixelTagProperty struct {
		Header
		Value string
	}
	BoolProperty struct {
		Header
		Value bool
	}
	IntProperty struct {
		Header
		Value int64
	}
	DoubleProperty struct {
		Header
		Value float64
	}
	URLProperty struct {
		Header
		URL string
	}
	// AssetProperty covers ASSET and ASSET_FILE.
	AssetProperty struct {
		Header
		AssetID          string
		FilePath         string
		OriginalFileName string
	}
	DataFileProperty struct {
		Header
		URI      string
		FileName string
	}
	// AdLayoutProperty references a versioned layout template.
	AdLayoutProperty struct {
		Header
		ID      string
		Version string
	}
	StyleSheetProperty struct {
		Header
		ID      string
		Version string
	}
	RecommenderProperty struct {
		Header
		RecommenderID string
	}
	NativeDataProperty struct {
		Header
		RequiredDisplay bool
		DataType        int
		Value           string
	}
	NativeImageProperty struct {
		Header
		RequiredDisplay bool
		ImageType       int
		Width           int
		Height          int
		FilePath        string
	}
	NativeTitleProperty struct {
		Header
		RequiredDisplay bool
		Value           string
	}
	// IdentifyingResourcesProperty lists the identifier shapes a feed accepts.
	IdentifyingResourcesProperty struct {
		Header
		Resources []IdentifyingResource
	}
	// UnknownProperty preserves shapes this runtime does not model.
	UnknownProperty struct {
		Header
		Raw json.RawMessage
	}
)

// IdentifyingResource names one identifier kind, optionally scoped.
type IdentifyingResource struct {
	Type       string `json:"type"`
	Provider   string `json:"provider,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

func (p StringProperty) Meta() Header               { return p.Header }
func (p PixelTagProperty) Meta() Header             { return p.Header }
func (p BoolProperty) Meta() Header                 { return p.Header }
func (p IntProperty) Meta() Header                  { return p.Header }
func (p DoubleProperty) Meta() Header               { return p.Header }
func (p URLProperty) Meta() Header                  { return p.Header }
func (p AssetProperty) Meta() Header                { return p.Header }
func (p DataFileProperty) Meta() Header             { return p.Header }
func (p AdLayoutProperty) Meta() Header             { return p.Header }
func (p StyleSheetProperty) Meta() Header           { return p.Header }
func (p RecommenderProperty) Meta() Header          { return p.Header }
func (p NativeDataProperty) Meta() Header           { return p.Header }
func (p NativeImageProperty) Meta() Header          { return p.Header }
func (p NativeTitleProperty) Meta() Header          { return p.Header }
func (p IdentifyingResourcesProperty) Meta() Header { return p.Header }
func (p UnknownProperty) Meta() Header              { return p.Header }

func (StringProperty) sealed()               {}
func (PixelTagProperty) sealed()             {}
func (BoolProperty) sealed()                 {}
func (IntProperty) sealed()                  {}
func (DoubleProperty) sealed()               {}
func (URLProperty) sealed()                  {}
func (AssetProperty) sealed()                {}
func (DataFileProperty) sealed()             {}
func (AdLayoutProperty) sealed()             {}
func (StyleSheetProperty) sealed()           {}
func (RecommenderProperty) sealed()          {}
func (NativeDataProperty) sealed()           {}
func (NativeImageProperty) sealed()          {}
func (NativeTitleProperty) sealed()          {}
func (IdentifyingResourcesProperty) sealed() {}
func (UnknownProperty) sealed()              {}

type wireProperty struct {
	Header
	Value json.RawMessage `json:"value"`
}

// Decode parses one property document. Unknown discriminants decode to
// UnknownProperty rather than failing, so new upstream shapes never break a
// plugin that does not read them.
func Decode(raw []byte) (Property, error) {
	var wire wireProperty
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("properties: decode: %w", err)
	}
	if strings.TrimSpace(wire.TechnicalName) == "" {
		return nil, fmt.Errorf("properties: technical_name missing")
	}
	h := wire.Header
	h.PropertyType = Type(strings.ToUpper(string(h.PropertyType)))
	value := wire.Value
	if len(bytes.TrimSpace(value)) == 0 || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		value = json.RawMessage("{}")
	}

	switch h.PropertyType {
	case TypeString:
		var v struct {
			Value string `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return StringProperty{Header: h, Value: v.Value}, nil
	case TypePixelTag:
		var v struct {
			Value string `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return PixelTagProperty{Header: h, Value: v.Value}, nil
	case TypeBoolean:
		var v struct {
			Value bool `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return BoolProperty{Header: h, Value: v.Value}, nil
	case TypeInt:
		var v struct {
			Value json.Number `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		n, err := numberOrZero(v.Value).Int64()
		if err != nil {
			return nil, fmt.Errorf("properties: %s: %w", h.TechnicalName, err)
		}
		return IntProperty{Header: h, Value: n}, nil
	case TypeDouble:
		var v struct {
			Value json.Number `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		f, err := numberOrZero(v.Value).Float64()
		if err != nil {
			return nil, fmt.Errorf("properties: %s: %w", h.TechnicalName, err)
		}
		return DoubleProperty{Header: h, Value: f}, nil
	case TypeURL:
		var v struct {
			URL string `json:"url"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return URLProperty{Header: h, URL: v.URL}, nil
	case TypeAsset, TypeAssetFile:
		var v struct {
			AssetID          string `json:"asset_id"`
			FilePath         string `json:"file_path"`
			OriginalFileName string `json:"original_file_name"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return AssetProperty{Header: h, AssetID: v.AssetID, FilePath: v.FilePath, OriginalFileName: v.OriginalFileName}, nil
	case TypeDataFile:
		var v struct {
			URI      string `json:"uri"`
			FileName string `json:"file_name"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return DataFileProperty{Header: h, URI: v.URI, FileName: v.FileName}, nil
	case TypeAdLayout, TypeStyleSheet:
		var v struct {
			ID      string `json:"id"`
			Version string `json:"version"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		if h.PropertyType == TypeAdLayout {
			return AdLayoutProperty{Header: h, ID: v.ID, Version: v.Version}, nil
		}
		return StyleSheetProperty{Header: h, ID: v.ID, Version: v.Version}, nil
	case TypeRecommender:
		var v struct {
			RecommenderID string `json:"recommender_id"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return RecommenderProperty{Header: h, RecommenderID: v.RecommenderID}, nil
	case TypeNativeData:
		var v struct {
			RequiredDisplay bool   `json:"required_display"`
			Type            int    `json:"type"`
			Value           string `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return NativeDataProperty{Header: h, RequiredDisplay: v.RequiredDisplay, DataType: v.Type, Value: v.Value}, nil
	case TypeNativeImage:
		var v struct {
			RequiredDisplay bool   `json:"required_display"`
			Type            int    `json:"type"`
			Width           int    `json:"width"`
			Height          int    `json:"height"`
			FilePath        string `json:"file_path"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return NativeImageProperty{Header: h, RequiredDisplay: v.RequiredDisplay, ImageType: v.Type, Width: v.Width, Height: v.Height, FilePath: v.FilePath}, nil
	case TypeNativeTitle:
		var v struct {
			RequiredDisplay bool   `json:"required_display"`
			Value           string `json:"value"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return NativeTitleProperty{Header: h, RequiredDisplay: v.RequiredDisplay, Value: v.Value}, nil
	case TypeIdentifyingResources:
		var v struct {
			Resources []IdentifyingResource `json:"resources"`
		}
		if err := decodeValue(h, value, &v); err != nil {
			return nil, err
		}
		return IdentifyingResourcesProperty{Header: h, Resources: v.Resources}, nil
	default:
		return UnknownProperty{Header: h, Raw: append(json.RawMessage(nil), wire.Value...)}, nil
	}
}

// DecodeList parses a JSON array of property documents.
func DecodeList(raw []byte) ([]Property, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("properties: decode list: %w", err)
	}
	out := make([]Property, 0, len(items))
	for i, item := range items {
		prop, err := Decode(item)
		if err != nil {
			return nil, fmt.Errorf("properties: item %d: %w", i, err)
		}
		out = append(out, prop)
	}
	return out, nil
}

func decodeValue(h Header, raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("properties: %s (%s): %w", h.TechnicalName, h.PropertyType, err)
	}
	return nil
}

func numberOrZero(n json.Number) json.Number {
	if n == "" {
		return "0"
	}
	return n
}
