package remote

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"vehiclecam/internal/vehicle"
)

// ErrUnexpectedShape は応答をどの既知の形にも当てはめられなかった
var ErrUnexpectedShape = errors.New("unexpected response format")

// flexString は文字列と数値のどちらでも受け付ける
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedShape, data)
	}
	*f = flexString(n.String())
	return nil
}

// flexCount は件数または配列を件数として受け付ける
type flexCount int

func (f *flexCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*f = 0
	case data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*f = flexCount(len(items))
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%w: count %q", ErrUnexpectedShape, s)
		}
		*f = flexCount(n)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = flexCount(int(n))
	}
	return nil
}

// first は最初の空でない値を返す
func first(values ...flexString) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

// listOf は {key: [...]} または配列そのものから要素を取り出す
func listOf(data []byte, keys ...string) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrUnexpectedShape
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return items, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		for _, key := range keys {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("%w: %q is not a list", ErrUnexpectedShape, key)
			}
			return items, nil
		}
	}
	return nil, ErrUnexpectedShape
}

type folderWire struct {
	ID     flexString `json:"id"`
	Name   flexString `json:"name"`
	Nombre flexString `json:"nombre"`
	Count  flexCount  `json:"count"`
	Total  flexCount  `json:"total"`
}

// adaptFolders は {folders:[...]}、配列、または旧形式の {フォルダ名: [...]} を受け付ける
func adaptFolders(data []byte) ([]Folder, error) {
	items, err := listOf(data, "folders", "carpetas")
	if err == nil {
		folders := make([]Folder, 0, len(items))
		for _, raw := range items {
			var w folderWire
			if err := json.Unmarshal(raw, &w); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
			}
			id := first(w.ID, w.Name, w.Nombre)
			if id == "" {
				return nil, fmt.Errorf("%w: folder without id", ErrUnexpectedShape)
			}
			count := int(w.Count)
			if count == 0 {
				count = int(w.Total)
			}
			folders = append(folders, Folder{ID: id, Name: first(w.Name, w.Nombre, w.ID), Count: count})
		}
		return folders, nil
	}

	legacy, legacyErr := adaptLegacyFolders(data)
	if legacyErr != nil {
		return nil, err
	}
	return legacy, nil
}

// adaptLegacyFolders は全ての値が配列のオブジェクトをフォルダ一覧として扱う
func adaptLegacyFolders(data []byte) ([]Folder, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || len(obj) == 0 {
		return nil, ErrUnexpectedShape
	}

	folders := make([]Folder, 0, len(obj))
	for name, raw := range obj {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, ErrUnexpectedShape
		}
		folders = append(folders, Folder{ID: name, Name: name, Count: len(items)})
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

type vehicleWire struct {
	ID       flexString `json:"id"`
	Vehiculo flexString `json:"vehiculo"`
	Name     flexString `json:"name"`
	Nombre   flexString `json:"nombre"`
	Date     flexString `json:"date"`
	Fecha    flexString `json:"fecha"`
	Images   flexCount  `json:"images"`
	Imagenes flexCount  `json:"imagenes"`
}

// adaptVehicles は {vehicles:[...]} または id|vehiculo 形式の配列を受け付ける
func adaptVehicles(data []byte) ([]Vehicle, error) {
	items, err := listOf(data, "vehicles", "vehiculos")
	if err != nil {
		return nil, err
	}

	vehicles := make([]Vehicle, 0, len(items))
	for _, raw := range items {
		var w vehicleWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		id := first(w.ID, w.Vehiculo)
		if id == "" {
			return nil, fmt.Errorf("%w: vehicle without id", ErrUnexpectedShape)
		}
		images := int(w.Images)
		if images == 0 {
			images = int(w.Imagenes)
		}
		name := first(w.Name, w.Nombre)
		if name == "" {
			name = displayVehicleName(id)
		}
		vehicles = append(vehicles, Vehicle{
			ID:     id,
			Name:   name,
			Date:   first(w.Date, w.Fecha),
			Images: images,
		})
	}
	return vehicles, nil
}

// displayVehicleName は数値IDをゼロ埋めした表示名にする
func displayVehicleName(id string) string {
	if parsed, err := vehicle.ParseID(id); err == nil {
		return "Vehicle " + parsed.String()
	}
	return id
}

type imageWire struct {
	ID       flexString `json:"id"`
	View     flexString `json:"view"`
	Vista    flexString `json:"vista"`
	URL      flexString `json:"url"`
	Date     flexString `json:"date"`
	Fecha    flexString `json:"fecha"`
	Filename flexString `json:"filename"`
	Name     flexString `json:"name"`
}

// adaptImages は {images:[...]} または配列を受け付ける
// view が無い場合はファイル名やURLに含まれるタグから推定する
func adaptImages(data []byte) ([]rawImage, error) {
	items, err := listOf(data, "images", "imagenes")
	if err != nil {
		return nil, err
	}

	images := make([]rawImage, 0, len(items))
	for _, raw := range items {
		var w imageWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}

		img := rawImage{
			ID:       first(w.ID, w.Filename, w.Name),
			URL:      first(w.URL),
			Date:     first(w.Date, w.Fecha),
			Filename: first(w.Filename, w.Name),
		}
		if v, err := vehicle.ParseViewSlot(first(w.View, w.Vista)); err == nil {
			img.View = v
		} else if v, ok := vehicle.ViewFromFilename(img.Filename); ok {
			img.View = v
		} else if v, ok := vehicle.ViewFromFilename(img.URL); ok {
			img.View = v
		}
		images = append(images, img)
	}
	return images, nil
}
