package plugins

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weftlabs/weft/pkg/schema"
)

func TestRegistry_ExecuteDispatches(t *testing.T) {
	reg := NewRegistry(nil)
	mailbox := NewMemoryConnector("mailbox").Handle("send_message",
		func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"sent_to": params["to"]}, nil
		})
	reg.Register(mailbox)

	res, err := reg.Execute(context.Background(), "mailbox", "send_message", map[string]any{"to": "ops@corp.test"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ops@corp.test", data["sent_to"])

	calls := mailbox.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send_message", calls[0].Action)
}

func TestRegistry_UnknownPlugin(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.Execute(context.Background(), "ghost", "anything", nil)
	require.Error(t, err)
	var werr *schema.WeftError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, schema.ErrCodeConnectorUnavailable, werr.Code)
}

func TestMemoryConnector_UnknownActionFailsSoft(t *testing.T) {
	c := NewMemoryConnector("db")

	res, err := c.Execute(context.Background(), "drop_everything", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown action")
}

func TestMemoryConnector_HandlerErrorFailsSoft(t *testing.T) {
	c := NewMemoryConnector("http").Handle("request",
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream returned 503")
		})

	res, err := c.Execute(context.Background(), "request", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "upstream returned 503", res.Error)
}

func TestSystemConnector_Actions(t *testing.T) {
	var logged []string
	sys := NewSystemConnector(func(action string, _ map[string]any) {
		logged = append(logged, action)
	})

	res, err := sys.Execute(context.Background(), "notify", map[string]any{"message": "no rows"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = sys.Execute(context.Background(), "alert", map[string]any{"severity": "high"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, []string{"notify", "alert"}, logged)
}

func TestRegistry_ReplaceAndClose(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewMemoryConnector("db"))
	reg.Register(NewMemoryConnector("db")) // replaces

	assert.Equal(t, []string{"db"}, reg.Plugins())
	require.NoError(t, reg.Close())
	assert.Empty(t, reg.Plugins())
}
