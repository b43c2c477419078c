package appinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/workbench/internal/config"
	"github.com/codefionn/workbench/internal/jsonrpc"
	"github.com/codefionn/workbench/internal/messaging"
)

func TestServiceOverJSONRPC(t *testing.T) {
	svc := NewService(config.ApplicationConfig{
		ID:      "main",
		Name:    "workbench",
		Version: "1.0.0",
		Extensions: []config.ExtensionConfig{
			{Name: "git", Version: "0.3.0"},
			{Name: "terminal", Version: "0.2.1"},
		},
	})

	services, err := messaging.NewServiceRegistry(svc.Provider())
	require.NoError(t, err)
	resolved, err := services.GetService(context.Background(), ServiceID, nil)
	require.NoError(t, err)

	client, server := messaging.Pipe(jsonrpc.ServicePath(ServiceID))
	defer client.Close()
	_, err = jsonrpc.NewServer(jsonrpc.NewMessageConnection(server), resolved)
	require.NoError(t, err)

	proxy := jsonrpc.NewProxy(jsonrpc.Resolved(jsonrpc.NewMessageConnection(client)))
	defer proxy.Dispose()
	ctx := context.Background()

	info, err := jsonrpc.Invoke[*ApplicationInfo](ctx, proxy, "getApplicationInfo")
	require.NoError(t, err)
	assert.Equal(t, &ApplicationInfo{Name: "workbench", Version: "1.0.0"}, info)

	exts, err := jsonrpc.Invoke[[]ExtensionInfo](ctx, proxy, "getExtensionsInfos")
	require.NoError(t, err)
	assert.Equal(t, []ExtensionInfo{{Name: "git", Version: "0.3.0"}, {Name: "terminal", Version: "0.2.1"}}, exts)

	id, err := jsonrpc.Invoke[string](ctx, proxy, "getApplicationId")
	require.NoError(t, err)
	assert.Equal(t, "main", id)

	_, err = proxy.Call(ctx, "provider")
	var rerr *jsonrpc.ResponseError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, jsonrpc.CodeMethodNotFound, rerr.Code)
}

func TestApplicationInfoUnknown(t *testing.T) {
	svc := NewService(config.ApplicationConfig{Name: "workbench"})

	info, err := svc.GetApplicationInfo()
	require.NoError(t, err)
	assert.Nil(t, info)

	exts, err := svc.GetExtensionsInfos()
	require.NoError(t, err)
	assert.Empty(t, exts)
}
