package presenter

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newTestPresenter() (*Presenter, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return NewWithWriters(out, errOut), out, errOut
}

func TestInfoAndSection(t *testing.T) {
	p, out, _ := newTestPresenter()

	p.Info("hello")
	p.Section("Skills")

	assert.Contains(t, out.String(), "hello\n")
	assert.Contains(t, out.String(), "Skills")
	assert.Contains(t, out.String(), "------")
}

func TestErrorWritesToStderr(t *testing.T) {
	p, out, errOut := newTestPresenter()

	p.Error(errors.New("boom"), "initialization failed")

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "initialization failed")
	assert.Contains(t, errOut.String(), "boom")
}

func TestErrorNilIsNoop(t *testing.T) {
	p, _, errOut := newTestPresenter()
	p.Error(nil, "context")
	assert.Empty(t, errOut.String())
}

func TestQuietSuppressesOutput(t *testing.T) {
	p, out, errOut := newTestPresenter()
	p.SetQuiet(true)

	p.Info("hidden")
	p.Success("hidden")
	p.Warning("hidden")
	p.Separator()
	assert.Empty(t, out.String())

	// Errors always surface
	p.Error(errors.New("boom"), "")
	assert.NotEmpty(t, errOut.String())
}
