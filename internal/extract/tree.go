package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/buger/jsonparser"
)

// Kind tags the variant held by a Node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Field is one key/value pair of an object, kept in document order.
type Field struct {
	Key   string
	Value *Node
}

// Node is a parsed JSON value. Scalar holds the unescaped string for
// KindString and the raw literal for numbers and booleans.
type Node struct {
	Kind   Kind
	Scalar string
	Items  []*Node
	Fields []Field
}

// Parse builds a Node tree from data, preserving object key order.
func Parse(data []byte) (*Node, error) {
	if !json.Valid(data) {
		return nil, errors.New("invalid JSON document")
	}
	value, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON root: %w", err)
	}
	return build(value, dataType)
}

func build(value []byte, dataType jsonparser.ValueType) (*Node, error) {
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape string: %w", err)
		}
		return &Node{Kind: KindString, Scalar: s}, nil
	case jsonparser.Number:
		return &Node{Kind: KindNumber, Scalar: string(value)}, nil
	case jsonparser.Boolean:
		return &Node{Kind: KindBool, Scalar: string(value)}, nil
	case jsonparser.Null:
		return &Node{Kind: KindNull}, nil
	case jsonparser.Array:
		node := &Node{Kind: KindArray}
		var buildErr error
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, err error) {
			if buildErr != nil {
				return
			}
			if err != nil {
				buildErr = err
				return
			}
			child, err := build(v, t)
			if err != nil {
				buildErr = err
				return
			}
			node.Items = append(node.Items, child)
		})
		if err == nil {
			err = buildErr
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk array: %w", err)
		}
		return node, nil
	case jsonparser.Object:
		node := &Node{Kind: KindObject}
		err := jsonparser.ObjectEach(value, func(k, v []byte, t jsonparser.ValueType, _ int) error {
			key, err := jsonparser.ParseString(k)
			if err != nil {
				return err
			}
			child, err := build(v, t)
			if err != nil {
				return err
			}
			node.Fields = append(node.Fields, Field{Key: key, Value: child})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk object: %w", err)
		}
		return node, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value type %s", dataType)
	}
}

// Get returns the value stored under key, or nil. With duplicate keys the
// last one wins, as with any JSON decoder.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	var found *Node
	for _, f := range n.Fields {
		if f.Key == key {
			found = f.Value
		}
	}
	return found
}

// IsObject reports whether n is a non-nil object.
func (n *Node) IsObject() bool {
	return n != nil && n.Kind == KindObject
}

// AsString returns the string value and whether n is a string.
func (n *Node) AsString() (string, bool) {
	if n == nil || n.Kind != KindString {
		return "", false
	}
	return n.Scalar, true
}

// Truthy mirrors the usual dynamic-language notion of an empty value.
func (n *Node) Truthy() bool {
	if n == nil {
		return false
	}
	switch n.Kind {
	case KindNull:
		return false
	case KindBool:
		return n.Scalar == "true"
	case KindNumber:
		f, err := strconv.ParseFloat(n.Scalar, 64)
		return err != nil || f != 0
	case KindString:
		return n.Scalar != ""
	case KindArray:
		return len(n.Items) > 0
	default:
		return len(n.Fields) > 0
	}
}

// Text renders a scalar as an identifier string.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case KindString, KindNumber, KindBool:
		return n.Scalar
	default:
		return ""
	}
}
