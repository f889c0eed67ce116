// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package executor

import (
	"errors"
	"fmt"

	"github.com/cardinalhq/eventrunner/internal/eventqueue"
)

// AnyVersion matches every processor version for a kind.
const AnyVersion = "*"

var ErrUnknownProcessor = errors.New("no processor for event kind and version")

// Binary names the executable that processes one kind and version.
type Binary struct {
	Kind    eventqueue.Kind
	Version string
	Path    string
}

type binaryKey struct {
	kind    eventqueue.Kind
	version string
}

// Binaries is an immutable (kind, version) to executable mapping.
type Binaries struct {
	paths map[binaryKey]string
}

func NewBinaries(bins ...Binary) (*Binaries, error) {
	b := &Binaries{paths: make(map[binaryKey]string, len(bins))}
	for _, bin := range bins {
		if !bin.Kind.Valid() {
			return nil, fmt.Errorf("processor %q: unknown kind %q", bin.Path, bin.Kind)
		}
		if bin.Version == "" || bin.Path == "" {
			return nil, fmt.Errorf("processor for %s: version and path are required", bin.Kind)
		}
		key := binaryKey{kind: bin.Kind, version: bin.Version}
		if existing, ok := b.paths[key]; ok {
			return nil, fmt.Errorf("duplicate processor for %s %s: %s and %s", bin.Kind, bin.Version, existing, bin.Path)
		}
		b.paths[key] = bin.Path
	}
	return b, nil
}

// Lookup returns the executable for kind and version. An exact version
// wins over an AnyVersion entry.
func (b *Binaries) Lookup(kind eventqueue.Kind, version string) (string, error) {
	if p, ok := b.paths[binaryKey{kind: kind, version: version}]; ok {
		return p, nil
	}
	if p, ok := b.paths[binaryKey{kind: kind, version: AnyVersion}]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s %s", ErrUnknownProcessor, kind, version)
}

func (b *Binaries) Len() int { return len(b.paths) }
