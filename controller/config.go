package controller

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Document is one parsed YAML document. The controller reads four kinds:
//
//   - Stack: the simulation composition (spec.models[]).
//   - Model: a model definition (runtime dynlib/gateway, channels).
//   - SignalGroup: a named signal set attached to a channel via the
//     "channel" label.
//   - Propagator: a signal routing description (spec.signals[]).
//
// Unknown kinds are retained in the document list but never consulted.
type Document struct {
	Kind     string   `yaml:"kind"`
	Metadata Metadata `yaml:"metadata"`
	Spec     DocSpec  `yaml:"spec"`
}

type Metadata struct {
	Name        string            `yaml:"name"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

// DocSpec is the union of the spec sections of all supported kinds.
type DocSpec struct {
	// Stack
	Models []StackModel `yaml:"models"`

	// Model
	Runtime  *RuntimeSpec `yaml:"runtime"`
	Channels []ChannelDoc `yaml:"channels"`

	// SignalGroup, Propagator
	Signals []SignalDoc `yaml:"signals"`
}

// StackModel is one instance entry under Stack spec.models[].
type StackModel struct {
	Name        string          `yaml:"name"`
	UID         uint32          `yaml:"uid"`
	Model       ModelRef        `yaml:"model"`
	Channels    []ChannelDoc    `yaml:"channels"`
	Propagators []PropagatorRef `yaml:"propagators"`
}

// ModelRef names the Model Definition an instance runs, optionally
// carrying inline metadata (the definition search path annotation).
type ModelRef struct {
	Name     string   `yaml:"name"`
	Metadata Metadata `yaml:"metadata"`
}

type PropagatorRef struct {
	Name string `yaml:"name"`
}

// RuntimeSpec selects how a Model Definition is loaded: a platform
// specific shared library, or the built-in gateway entry points (when the
// gateway key is present and no dynlib matches).
type RuntimeSpec struct {
	Dynlib  []DynlibSpec `yaml:"dynlib"`
	Gateway *GatewaySpec `yaml:"gateway"`
}

// GatewaySpec marks a Model Definition as gateway-backed. Presence is the
// signal; the object carries no fields.
type GatewaySpec struct{}

type DynlibSpec struct {
	OS   string `yaml:"os"`
	Arch string `yaml:"arch"`
	Path string `yaml:"path"`
}

// ChannelDoc describes a channel binding in a Stack instance node or a
// Model Definition: the bus channel name, an optional alias, and an
// optional inline signal list (the legacy resolution path).
type ChannelDoc struct {
	Name    string      `yaml:"name"`
	Alias   string      `yaml:"alias"`
	Signals []SignalDoc `yaml:"signals"`
}

type SignalDoc struct {
	Signal      string            `yaml:"signal"`
	Source      string            `yaml:"source"`
	Target      string            `yaml:"target"`
	Annotations map[string]string `yaml:"annotations"`
}

// DocList is the ordered collection of parsed YAML documents backing a
// simulation. Model instances and the adapter hold borrowed references
// into it, so it must outlive them (released last during teardown).
type DocList struct {
	Docs []*Document
}

func NewDocList() *DocList {
	return &DocList{}
}

// LoadFile parses all documents of a (possibly multi-document) YAML file
// and appends them to the list.
func (dl *DocList) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load yaml %s: %w", path, err)
	}
	defer f.Close()

	logrus.Infof("Load YAML File: %s", path)
	dec := yaml.NewDecoder(f)
	for {
		doc := &Document{}
		err := dec.Decode(doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("parse yaml %s: %w", path, err)
		}
		dl.Docs = append(dl.Docs, doc)
	}
	return nil
}

// FindStackModel locates the Stack spec.models[] node with the given
// instance name.
func (dl *DocList) FindStackModel(name string) *StackModel {
	for _, doc := range dl.Docs {
		if doc.Kind != "Stack" {
			continue
		}
		for i := range doc.Spec.Models {
			if doc.Spec.Models[i].Name == name {
				return &doc.Spec.Models[i]
			}
		}
	}
	return nil
}

// FindDoc locates the first document of the given kind whose
// metadata.name matches.
func (dl *DocList) FindDoc(kind, name string) *Document {
	for _, doc := range dl.Docs {
		if doc.Kind == kind && doc.Metadata.Name == name {
			return doc
		}
	}
	return nil
}

// SignalGroups returns the SignalGroup documents attached to a channel
// (label "channel" matching the channel name), in document order.
func (dl *DocList) SignalGroups(channelName string) []*Document {
	var groups []*Document
	for _, doc := range dl.Docs {
		if doc.Kind != "SignalGroup" {
			continue
		}
		if doc.Metadata.Labels["channel"] == channelName {
			groups = append(groups, doc)
		}
	}
	return groups
}

// Release drops all document references. Call only after the adapter and
// every model instance holding borrowed references are gone.
func (dl *DocList) Release() {
	dl.Docs = nil
}
