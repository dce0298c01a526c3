package metric

// Item - 每个想暴露metric的模块实现一个Item，按label挂进Set
type Item interface {
	JSONString() string
}

type mockItem struct {
	name string
}

func (mock *mockItem) JSONString() string {
	return mock.name
}
