package classify

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/query-router/internal/llm"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
