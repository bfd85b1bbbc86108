package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/version"
)

// Generation is a recipe ingredient/result encoding
type Generation int

const (
	// GenA: ingredients {item}/{tag}, result {item, count}
	GenA Generation = iota
	// GenB: ingredients {item}/{tag}, result {id, count}
	GenB
	// GenC: ingredients "id"/"#tag", result {id, count}
	GenC
)

func (g Generation) String() string {
	switch g {
	case GenA:
		return "A"
	case GenB:
		return "B"
	case GenC:
		return "C"
	}
	return fmt.Sprintf("Generation(%d)", int(g))
}

// Data schema numbers at which each generation starts
const (
	GenBThreshold = 34
	GenCThreshold = 49
)

var ingredientFields = []string{"key", "ingredients", "ingredient"}

// GenerationFor picks the recipe encoding for a data schema number
func GenerationFor(schema float64) Generation {
	switch {
	case schema >= GenCThreshold:
		return GenC
	case schema >= GenBThreshold:
		return GenB
	}
	return GenA
}

// IsRecipePath reports whether a translated module-relative path holds a recipe
func IsRecipePath(p string) bool {
	if !strings.HasPrefix(p, domain.DataNamespace+"/") || path.Ext(p) != ".json" {
		return false
	}
	c := Category(p)
	return c == "recipe" || c == "recipes"
}

// RecipeTranslator converts recipe JSON between generations via GenC
type RecipeTranslator struct{}

func NewRecipeTranslator() *RecipeTranslator {
	return &RecipeTranslator{}
}

// Translate normalizes content to GenC, then lowers it to the generation entry expects
func (t *RecipeTranslator) Translate(content []byte, entry version.Entry) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrTranslateFailed, "Recipe is not a JSON object", http.StatusUnprocessableEntity, err, nil)
	}

	if err := t.Convert(doc, GenerationFor(entry.DataVersion)); err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrTranslateFailed, "Recipe could not be converted", http.StatusUnprocessableEntity, err, nil)
	}

	return encodeIndented(doc)
}

// Convert rewrites doc in place to the target generation
func (t *RecipeTranslator) Convert(doc map[string]json.RawMessage, target Generation) error {
	if err := mapIngredients(doc, ingredientToC); err != nil {
		return err
	}
	if err := mapResult(doc, resultToC); err != nil {
		return err
	}
	if target >= GenC {
		return nil
	}

	if err := mapIngredients(doc, ingredientCToB); err != nil {
		return err
	}
	if target >= GenB {
		return nil
	}

	return mapResult(doc, resultBToA)
}

type rawMapper func(json.RawMessage) (json.RawMessage, error)

func mapIngredients(doc map[string]json.RawMessage, fn rawMapper) error {
	for _, field := range ingredientFields {
		raw, ok := doc[field]
		if !ok {
			continue
		}

		var (
			out json.RawMessage
			err error
		)
		switch field {
		case "key":
			out, err = mapObjectValues(raw, fn)
		case "ingredients":
			out, err = mapArray(raw, fn)
		default:
			out, err = fn(raw)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		doc[field] = out
	}
	return nil
}

func mapResult(doc map[string]json.RawMessage, fn rawMapper) error {
	raw, ok := doc["result"]
	if !ok {
		return nil
	}
	out, err := fn(raw)
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}
	doc["result"] = out
	return nil
}

func mapObjectValues(raw json.RawMessage, fn rawMapper) (json.RawMessage, error) {
	if kind(raw) != '{' {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range obj {
		out, err := fn(v)
		if err != nil {
			return nil, err
		}
		obj[k] = out
	}
	return marshal(obj)
}

func mapArray(raw json.RawMessage, fn rawMapper) (json.RawMessage, error) {
	if kind(raw) != '[' {
		return raw, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	for i, v := range list {
		out, err := fn(v)
		if err != nil {
			return nil, err
		}
		list[i] = out
	}
	return marshal(list)
}

// ingredientToC: {item} -> "item", {tag} -> "#tag"; tag wins when both are set
func ingredientToC(raw json.RawMessage) (json.RawMessage, error) {
	switch kind(raw) {
	case '[':
		return mapArray(raw, ingredientToC)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		if tag, ok := stringField(obj, "tag"); ok {
			return marshal("#" + tag)
		}
		if item, ok := stringField(obj, "item"); ok {
			return marshal(item)
		}
	}
	return raw, nil
}

// ingredientCToB: "#tag" -> {tag}, "item" -> {item}
func ingredientCToB(raw json.RawMessage) (json.RawMessage, error) {
	switch kind(raw) {
	case '[':
		return mapArray(raw, ingredientCToB)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if tag, ok := strings.CutPrefix(s, "#"); ok {
			return marshal(map[string]string{"tag": tag})
		}
		return marshal(map[string]string{"item": s})
	}
	return raw, nil
}

// resultToC: {item, count?} -> {id, count}, count defaulting to 1
func resultToC(raw json.RawMessage) (json.RawMessage, error) {
	if kind(raw) != '{' {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	item, ok := obj["item"]
	if !ok {
		return raw, nil
	}
	delete(obj, "item")
	obj["id"] = item
	if _, ok := obj["count"]; !ok {
		obj["count"] = json.RawMessage("1")
	}
	return marshal(obj)
}

// resultBToA: {id, count} -> {item, count}
func resultBToA(raw json.RawMessage) (json.RawMessage, error) {
	if kind(raw) != '{' {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	id, ok := obj["id"]
	if !ok {
		return raw, nil
	}
	delete(obj, "id")
	obj["item"] = id
	return marshal(obj)
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// kind returns the first significant byte of a JSON value
func kind(raw json.RawMessage) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func encodeIndented(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
