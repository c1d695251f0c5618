// Package parser reads the plain-text question format:
//
//	T: topic
//	Q: question text
//	   continuation lines belong to the last field
//	A: answer text
//	C: optional extra context
//	---
//
// "---" separates questions; a new Q: also starts one. A T: line sets
// the topic for its question and carries forward to the rest of the
// file until the next T:.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/examloop/examloop/internal/domain"
)

type field int

const (
	fieldNone field = iota
	fieldTopic
	fieldQuestion
	fieldAnswer
	fieldContext
)

var prefixes = []struct {
	marker string
	field  field
}{
	{"T:", fieldTopic},
	{"Q:", fieldQuestion},
	{"A:", fieldAnswer},
	{"C:", fieldContext},
}

const separator = "---"

// ParseFile reads one corpus file. Questions without a topic of their
// own get defaultTopic.
func ParseFile(path, defaultTopic string) ([]domain.Question, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file, defaultTopic)
}

// Parse extracts every question from r. Blocks with an empty question
// text are dropped; an empty answer is allowed.
func Parse(r io.Reader, defaultTopic string) ([]domain.Question, error) {
	p := &fileParser{topic: defaultTopic}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.finish()
	return p.questions, nil
}

type fileParser struct {
	questions []domain.Question

	topic   string // carries forward across questions
	current domain.Question
	block   []string
	active  field
}

func (p *fileParser) line(line string) {
	if strings.TrimSpace(line) == separator {
		p.finish()
		return
	}
	for _, pf := range prefixes {
		if !strings.HasPrefix(line, pf.marker) {
			continue
		}
		if pf.field == fieldQuestion && p.active != fieldNone {
			// A new Q: always starts a new question.
			p.finish()
		} else {
			p.closeBlock()
		}
		p.active = pf.field
		p.block = append(p.block, strings.TrimPrefix(line[len(pf.marker):], " "))
		return
	}
	if p.active != fieldNone {
		p.block = append(p.block, line)
	}
}

// closeBlock commits the collected lines to the active field.
func (p *fileParser) closeBlock() {
	if len(p.block) == 0 {
		return
	}
	content := strings.Join(p.block, "\n")
	switch p.active {
	case fieldTopic:
		p.topic = strings.TrimSpace(content)
	case fieldQuestion:
		p.current.Question = content
	case fieldAnswer:
		p.current.Answer = content
	case fieldContext:
		p.current.Context = content
	}
	p.block = nil
}

// finish closes the open block and, when a question was collected,
// appends it with the effective topic.
func (p *fileParser) finish() {
	p.closeBlock()
	if strings.TrimSpace(p.current.Question) != "" {
		p.current.Topic = p.topic
		p.questions = append(p.questions, p.current)
	}
	p.current = domain.Question{}
	p.active = fieldNone
}
