package semcache

import (
	"context"
	"fmt"
	"reflect"
)

const tagKey = "semcache"

// schemaMeta maps struct fields to FAQ roles.
type schemaMeta struct {
	idIdx       int
	questionIdx int
	answerIdx   int
}

// parseSchema reflects on T and extracts semcache struct tag metadata.
// Every role must be tagged exactly once:
//
//	type Article struct {
//	    Slug  string `semcache:"id"`
//	    Title string `semcache:"question"`
//	    Body  string `semcache:"answer"`
//	}
func parseSchema[T any]() (*schemaMeta, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("semcache: type %v is not a struct", t)
	}

	meta := &schemaMeta{idIdx: -1, questionIdx: -1, answerIdx: -1}
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get(tagKey)
		if tag == "" || tag == "-" {
			continue
		}
		if f.Type.Kind() != reflect.String {
			return nil, fmt.Errorf("semcache: field %s tagged %q must be a string", f.Name, tag)
		}
		if err := applyTag(meta, i, f.Name, tag); err != nil {
			return nil, err
		}
	}

	if meta.idIdx == -1 || meta.questionIdx == -1 || meta.answerIdx == -1 {
		return nil, fmt.Errorf("semcache: %s needs fields tagged id, question and answer", t)
	}
	return meta, nil
}

// applyTag processes a single struct field's semcache tag.
func applyTag(meta *schemaMeta, idx int, fieldName, tag string) error {
	var slot *int
	switch tag {
	case "id":
		slot = &meta.idIdx
	case "question":
		slot = &meta.questionIdx
	case "answer":
		slot = &meta.answerIdx
	default:
		return fmt.Errorf("semcache: unknown tag %q on field %s", tag, fieldName)
	}
	if *slot != -1 {
		return fmt.Errorf("semcache: duplicate %s tag on field %s", tag, fieldName)
	}
	*slot = idx
	return nil
}

// toFAQ converts a tagged struct to a FAQ row.
func (m *schemaMeta) toFAQ(item any) FAQ {
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return FAQ{
		ID:       v.Field(m.idIdx).String(),
		Question: v.Field(m.questionIdx).String(),
		Answer:   v.Field(m.answerIdx).String(),
	}
}

// FAQsOf converts tagged structs to FAQ rows. T must be a struct, or a
// pointer to one, with string fields tagged id, question and answer.
// Nil pointers are rejected.
func FAQsOf[T any](items []T) ([]FAQ, error) {
	meta, err := parseSchema[T]()
	if err != nil {
		return nil, err
	}
	out := make([]FAQ, len(items))
	for i := range items {
		v := reflect.ValueOf(items[i])
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, fmt.Errorf("semcache: item %d is nil: %w", i, ErrInvalidEntry)
		}
		out[i] = meta.toFAQ(items[i])
	}
	return out, nil
}

// IndexOf embeds tagged structs with c. See FAQsOf for the tag layout.
func IndexOf[T any](ctx context.Context, c *Client, items []T) ([]Entry, error) {
	rows, err := FAQsOf(items)
	if err != nil {
		return nil, err
	}
	return c.Index(ctx, rows)
}
