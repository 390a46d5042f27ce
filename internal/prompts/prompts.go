// Package prompts renders the embedded prompt templates used by the
// conversation engine and the evaluation pipeline.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"text/template"
)

//go:embed templates/*
var templatesFS embed.FS

// Set holds the parsed templates and the active patient persona.
type Set struct {
	tmpl    *template.Template
	persona string
}

// New parses the embedded templates. A non-empty personaFile replaces the
// default patient persona with the file's contents, read verbatim.
func New(personaFile string) (*Set, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	s := &Set{tmpl: tmpl}

	if personaFile != "" {
		data, err := os.ReadFile(personaFile) // #nosec G304 -- operator-supplied prompt file
		if err != nil {
			return nil, fmt.Errorf("read persona prompt: %w", err)
		}
		s.persona = string(data)
	} else {
		persona, err := s.render("patient_system.tmpl", nil)
		if err != nil {
			return nil, err
		}
		s.persona = persona
	}
	return s, nil
}

// OpeningSystem is the instruction for rephrasing a symptom template.
func (s *Set) OpeningSystem() (string, error) {
	return s.render("opening_system.tmpl", nil)
}

func (s *Set) OpeningUser(symptom string) (string, error) {
	return s.render("opening_user.tmpl", map[string]string{"Symptom": symptom})
}

// PatientSystem returns the persona prompt, extended with the steering
// directive when product is non-empty.
func (s *Set) PatientSystem(product string) (string, error) {
	if product == "" {
		return s.persona, nil
	}
	directive, err := s.render("target_directive.tmpl", map[string]string{"Product": product})
	if err != nil {
		return "", err
	}
	return s.persona + directive, nil
}

func (s *Set) EvaluationSystem(productInfo string) (string, error) {
	return s.render("evaluation_system.tmpl", map[string]string{"ProductInfo": productInfo})
}

func (s *Set) EvaluationUser(transcript, product string) (string, error) {
	return s.render("evaluation_user.tmpl", map[string]string{
		"Transcript": transcript,
		"Product":    product,
	})
}

func (s *Set) render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
