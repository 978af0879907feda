package plugin

import (
	"context"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake verifies that a backend-script plugin binary and the host speak
// the same protocol.
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGHOST_PLUGIN",
	MagicCookieValue: "plughost-plugin-v1",
}

// PluginMap is the set of plugins the host can dispense from a subprocess.
var PluginMap = map[string]goplugin.Plugin{
	"backend": &BackendRPCPlugin{},
}

// Backend is the interface a backend-script plugin implements. Activate
// returns the lifecycle event names the plugin wants hooks for; the host
// routes those events back over HandleEvent.
type Backend interface {
	Activate(ctx context.Context, config map[string]any) ([]string, error)
	Deactivate(ctx context.Context) error
	HandleEvent(ctx context.Context, event string, data map[string]any) error
}

// BackendRPCPlugin is the go-plugin glue for Backend.
type BackendRPCPlugin struct {
	Impl Backend
}

func (p *BackendRPCPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &BackendRPCServer{Impl: p.Impl}, nil
}

func (p *BackendRPCPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &BackendRPCClient{client: c}, nil
}

// BackendRPCServer runs inside the plugin process.
type BackendRPCServer struct {
	Impl Backend
}

// ActivateArgs are the arguments for the Activate RPC call.
type ActivateArgs struct {
	Config map[string]any
}

// ActivateResp is the response for the Activate RPC call.
type ActivateResp struct {
	HookEvents []string
	Error      string
}

func (s *BackendRPCServer) Activate(args *ActivateArgs, resp *ActivateResp) error {
	events, err := s.Impl.Activate(context.Background(), args.Config)
	resp.HookEvents = events
	if err != nil {
		resp.Error = err.Error()
	}
	return nil
}

func (s *BackendRPCServer) Deactivate(args interface{}, resp *string) error {
	if err := s.Impl.Deactivate(context.Background()); err != nil {
		*resp = err.Error()
	}
	return nil
}

// HandleEventArgs are the arguments for the HandleEvent RPC call.
type HandleEventArgs struct {
	Event string
	Data  map[string]any
}

func (s *BackendRPCServer) HandleEvent(args *HandleEventArgs, resp *string) error {
	if err := s.Impl.HandleEvent(context.Background(), args.Event, args.Data); err != nil {
		*resp = err.Error()
	}
	return nil
}

// BackendRPCClient runs inside the host and talks to BackendRPCServer.
type BackendRPCClient struct {
	client *rpc.Client
}

func (c *BackendRPCClient) Activate(ctx context.Context, config map[string]any) ([]string, error) {
	var resp ActivateResp
	if err := c.client.Call("Plugin.Activate", &ActivateArgs{Config: config}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, rpcError(resp.Error)
	}
	return resp.HookEvents, nil
}

func (c *BackendRPCClient) Deactivate(ctx context.Context) error {
	var resp string
	if err := c.client.Call("Plugin.Deactivate", new(interface{}), &resp); err != nil {
		return err
	}
	if resp != "" {
		return rpcError(resp)
	}
	return nil
}

func (c *BackendRPCClient) HandleEvent(ctx context.Context, event string, data map[string]any) error {
	var resp string
	if err := c.client.Call("Plugin.HandleEvent", &HandleEventArgs{Event: event, Data: data}, &resp); err != nil {
		return err
	}
	if resp != "" {
		return rpcError(resp)
	}
	return nil
}

// Serve is the entry point a backend-script plugin binary calls from main.
func Serve(impl Backend) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"backend": &BackendRPCPlugin{Impl: impl},
		},
	})
}

type rpcError string

func (e rpcError) Error() string { return string(e) }
