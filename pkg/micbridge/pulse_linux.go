package micbridge

import (
	"fmt"
	"net"
	"strconv"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

// pulseBackend implements the device directory, session lister and default
// device seams over one PulseAudio connection. Only the capture side is fully
// meaningful here; PulseAudio keeps a single default source, so the role
// fallback chain collapses to the same answer for every role.
type pulseBackend struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn
}

// audioBackend groups the platform implementations of the three seams the
// core operates through.
type audioBackend struct {
	directory DeviceDirectory
	sessions  sessionLister
	defaults  defaultDeviceAPI

	releaseFuncs []func() error
}

func newAudioBackend(logger *zap.SugaredLogger) (*audioBackend, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("micbridge"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		_ = conn.Close()
		return nil, err
	}

	backend := &pulseBackend{
		logger: logger.Named("pulse"),
		client: client,
		conn:   conn,
	}

	backend.logger.Debug("Created PA backend instance")

	return &audioBackend{
		directory:    backend,
		sessions:     backend,
		defaults:     backend,
		releaseFuncs: []func() error{backend.Release},
	}, nil
}

func (b *audioBackend) Release() error {
	for _, release := range b.releaseFuncs {
		if err := release(); err != nil {
			return err
		}
	}

	return nil
}

func (pb *pulseBackend) Release() error {
	if pb.conn != nil {
		_ = pb.conn.Close()
		pb.conn = nil
	}

	pb.logger.Debug("Released PA backend instance")
	return nil
}

// Resolve matches against the source/sink description, which is what users
// see in their mixer UI. The source name doubles as the endpoint identifier.
func (pb *pulseBackend) Resolve(flow DataFlow, name string) (Endpoint, error) {
	endpoints, err := pb.ListAll(flow)
	if err != nil {
		return Endpoint{}, err
	}

	for _, endpoint := range endpoints {
		if endpoint.Name == name {
			return endpoint, nil
		}
	}

	return Endpoint{}, fmt.Errorf("%w: %q (%s)", ErrEndpointNotFound, name, flow)
}

func (pb *pulseBackend) ListAll(flow DataFlow) ([]Endpoint, error) {
	if flow == FlowRender {
		var reply proto.GetSinkInfoListReply
		if err := pb.client.Request(&proto.GetSinkInfoList{}, &reply); err != nil {
			return nil, fmt.Errorf("list PA sinks: %w", err)
		}

		endpoints := make([]Endpoint, 0, len(reply))
		for _, info := range reply {
			endpoints = append(endpoints, Endpoint{
				ID:    info.SinkName,
				Name:  info.Device,
				Flow:  FlowRender,
				State: EndpointActive,
			})
		}

		return endpoints, nil
	}

	var reply proto.GetSourceInfoListReply
	if err := pb.client.Request(&proto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list PA sources: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(reply))
	for _, info := range reply {
		endpoints = append(endpoints, Endpoint{
			ID:    info.SourceName,
			Name:  info.Device,
			Flow:  FlowCapture,
			State: EndpointActive,
		})
	}

	return endpoints, nil
}

// Sessions lists the recording streams currently attached to the source.
func (pb *pulseBackend) Sessions(endpointID string) ([]audioSession, error) {
	sourceIndex, err := pb.sourceIndexByName(endpointID)
	if err != nil {
		return nil, err
	}

	var reply proto.GetSourceOutputInfoListReply
	if err := pb.client.Request(&proto.GetSourceOutputInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list PA source outputs: %w", err)
	}

	var sessions []audioSession

	for _, info := range reply {
		if info.SourceIndex != sourceIndex {
			continue
		}

		var pid uint32
		if prop, ok := info.Properties["application.process.id"]; ok {
			if parsed, err := strconv.Atoi(prop.String()); err == nil {
				pid = uint32(parsed)
			}
		}

		var displayName string
		if prop, ok := info.Properties["application.name"]; ok {
			displayName = prop.String()
		}

		state := sessionActive
		if info.Corked {
			state = sessionInactive
		}

		sessions = append(sessions, audioSession{
			PID:         pid,
			DisplayName: displayName,
			State:       state,
		})
	}

	return sessions, nil
}

func (pb *pulseBackend) sourceIndexByName(name string) (uint32, error) {
	var reply proto.GetSourceInfoListReply
	if err := pb.client.Request(&proto.GetSourceInfoList{}, &reply); err != nil {
		return 0, fmt.Errorf("list PA sources: %w", err)
	}

	for _, info := range reply {
		if info.SourceName == name {
			return info.SourceIndex, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrEndpointNotFound, name)
}

// DefaultEndpointID ignores the role; PulseAudio has one default source.
func (pb *pulseBackend) DefaultEndpointID(_ Role) (string, error) {
	var reply proto.GetServerInfoReply
	if err := pb.client.Request(&proto.GetServerInfo{}, &reply); err != nil {
		return "", fmt.Errorf("get PA server info: %w", err)
	}

	if reply.DefaultSourceName == "" {
		return "", fmt.Errorf("no default source configured")
	}

	return reply.DefaultSourceName, nil
}

// SetDefaultEndpoint sets the single default source. The caller applies it
// once per role; the repeated assignments are idempotent.
func (pb *pulseBackend) SetDefaultEndpoint(endpointID string, _ Role) error {
	if err := pb.client.Request(&proto.SetDefaultSource{SourceName: endpointID}, nil); err != nil {
		return fmt.Errorf("set PA default source: %w", err)
	}

	return nil
}
