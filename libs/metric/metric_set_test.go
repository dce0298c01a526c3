package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestSet() *Set {
	m := NewSet()
	m.metrics["TEST"] = &mockItem{name: "TEST"}
	return m
}

func TestSetHas(t *testing.T) {
	m := newTestSet()

	assert.True(t, m.Has("TEST"), "should contain label(TEST)")
	assert.False(t, m.Has("FTEST"), "shouldn't contain label(FTEST)")
}

func TestSetRegister(t *testing.T) {
	m := newTestSet()

	mock := &mockItem{name: "TEST"}
	assert.NotNil(t, m.Register("TEST", mock), "label(TEST)不应该注册成功")
	assert.Nil(t, m.Register("TEST1", mock), "label(TEST1)应该注册成功")

	assert.True(t, m.Has("TEST"))
	assert.True(t, m.Has("TEST1"))
}

func TestSetLabels(t *testing.T) {
	m := newTestSet()

	labels := m.Labels()
	assert.Equal(t, 1, len(labels))
	assert.Equal(t, "TEST", labels[0])

	snapshot := m.JSONStrings()
	assert.Equal(t, "TEST", snapshot["TEST"])
}
