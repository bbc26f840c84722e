// Copyright 2025 The Routebind Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dtab

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/routebind/routebind/name"
)

// Parse reads a delegation table from its text form:
//
//	/s/web => /srv/web-a | /srv/web-b;
//	/srv   => 0.9*/zone/east & 0.1*/zone/west
//
// Trees support '|' for ordered alternatives, '&' for weighted unions
// (branch weight given as "w*", defaulting to 1), '~' for a negative
// result, '!' for a hard stop, '$' for an explicitly empty set, and
// parentheses for grouping. '|' binds looser than '&'.
func Parse(text string) (Dtab, error) {
	p := &parser{input: text}
	dtab, err := p.dtab()
	if err != nil {
		return nil, fmt.Errorf("dtab: parsing %q: %w", text, err)
	}
	return dtab, nil
}

// MustParse is Parse for statically known tables; it panics on error.
func MustParse(text string) Dtab {
	dtab, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return dtab
}

// ParseTree reads a single alternatives tree over paths, using the same
// syntax as the target side of a table entry.
func ParseTree(text string) (name.Tree[name.Path], error) {
	p := &parser{input: text}
	tree, err := p.alt()
	if err == nil {
		p.skipSpace()
		if !p.done() {
			err = fmt.Errorf("unexpected %q", p.rest())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dtab: parsing tree %q: %w", text, err)
	}
	return tree, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) dtab() (Dtab, error) {
	var dtab Dtab
	for {
		p.skipSpace()
		if p.done() {
			return dtab, nil
		}
		entry, err := p.dentry()
		if err != nil {
			return nil, err
		}
		dtab = append(dtab, entry)
		p.skipSpace()
		if !p.consume(';') {
			if !p.done() {
				return nil, fmt.Errorf("expected ';' before %q", p.rest())
			}
			return dtab, nil
		}
	}
}

func (p *parser) dentry() (Dentry, error) {
	prefix, err := p.path()
	if err != nil {
		return Dentry{}, err
	}
	p.skipSpace()
	if !strings.HasPrefix(p.rest(), "=>") {
		return Dentry{}, fmt.Errorf("expected '=>' before %q", p.rest())
	}
	p.pos += 2
	target, err := p.alt()
	if err != nil {
		return Dentry{}, err
	}
	return Dentry{Prefix: prefix, Target: target}, nil
}

func (p *parser) alt() (name.Tree[name.Path], error) {
	first, err := p.union()
	if err != nil {
		return nil, err
	}
	trees := []name.Tree[name.Path]{first}
	for {
		p.skipSpace()
		if !p.consume('|') {
			break
		}
		next, err := p.union()
		if err != nil {
			return nil, err
		}
		trees = append(trees, next)
	}
	if len(trees) == 1 {
		return trees[0], nil
	}
	return name.Alt[name.Path]{Trees: trees}, nil
}

func (p *parser) union() (name.Tree[name.Path], error) {
	first, err := p.branch()
	if err != nil {
		return nil, err
	}
	branches := []name.Branch[name.Path]{first}
	for {
		p.skipSpace()
		if !p.consume('&') {
			break
		}
		next, err := p.branch()
		if err != nil {
			return nil, err
		}
		branches = append(branches, next)
	}
	if len(branches) == 1 && branches[0].Weight == 1 {
		return branches[0].Tree, nil
	}
	return name.Union[name.Path]{Branches: branches}, nil
}

func (p *parser) branch() (name.Branch[name.Path], error) {
	p.skipSpace()
	weight := 1.0
	if start := p.pos; p.consumeNumber() {
		text := p.input[start:p.pos]
		p.skipSpace()
		if p.consume('*') {
			w, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return name.Branch[name.Path]{}, fmt.Errorf("bad weight %q", text)
			}
			weight = w
		} else {
			return name.Branch[name.Path]{}, fmt.Errorf("expected '*' after weight %q", text)
		}
	}
	tree, err := p.simple()
	if err != nil {
		return name.Branch[name.Path]{}, err
	}
	return name.Branch[name.Path]{Weight: weight, Tree: tree}, nil
}

func (p *parser) simple() (name.Tree[name.Path], error) {
	p.skipSpace()
	switch {
	case p.consume('~'):
		return name.Neg[name.Path]{}, nil
	case p.consume('!'):
		return name.Fail[name.Path]{}, nil
	case p.consume('$'):
		return name.Empty[name.Path]{}, nil
	case p.consume('('):
		tree, err := p.alt()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.consume(')') {
			return nil, fmt.Errorf("expected ')' before %q", p.rest())
		}
		return tree, nil
	default:
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		return name.Leaf[name.Path]{Value: path}, nil
	}
}

func (p *parser) path() (name.Path, error) {
	p.skipSpace()
	start := p.pos
	for !p.done() && !strings.ContainsRune("=>|&;()*! \t\n", rune(p.input[p.pos])) {
		p.pos++
	}
	text := p.input[start:p.pos]
	if text == "" {
		return nil, fmt.Errorf("expected a path before %q", p.rest())
	}
	return name.ParsePath(text)
}

func (p *parser) consumeNumber() bool {
	start := p.pos
	for !p.done() {
		c := rune(p.input[p.pos])
		if !unicode.IsDigit(c) && c != '.' {
			break
		}
		p.pos++
	}
	return p.pos > start
}

func (p *parser) consume(c byte) bool {
	if !p.done() && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for !p.done() && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) done() bool {
	return p.pos >= len(p.input)
}

func (p *parser) rest() string {
	return p.input[p.pos:]
}
