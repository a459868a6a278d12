package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/w-xiyan/nacos/health"
	"github.com/w-xiyan/nacos/naming"
	"github.com/w-xiyan/nacos/remote"
)

func (s *Server) registerBuiltins() {
	s.RegisterHandler(remote.KindServerCheck, s.handleServerCheck)
	s.RegisterHandler(remote.KindConnectionSetup, s.handleConnectionSetup)
	s.RegisterHandler(remote.KindHealthCheck, s.handleHealthCheck)
	s.RegisterHandler(remote.KindInstance, s.handleInstance)
	s.RegisterHandler(remote.KindServiceQuery, s.handleServiceQuery)
	s.RegisterHandler(remote.KindServiceList, s.handleServiceList)
	s.RegisterHandler(remote.KindSubscribe, s.handleSubscribe)
	s.RegisterHandler(remote.KindClientBeat, s.handleClientBeat)
}

func (s *Server) connByID(id string) (*Conn, bool) {
	v, ok := s.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Conn), true
}

func (s *Server) handleServerCheck(req *remote.Request, meta *remote.Meta) *remote.Response {
	resp, err := remote.NewResponse(remote.KindServerCheck, &remote.ServerCheckReply{
		ConnectionID: meta.ConnectionID,
	})
	if err != nil {
		return remote.Errorf(req.Kind, remote.CodeFail, "encode reply: %v", err)
	}
	return resp
}

// handleConnectionSetup records the client's declared identity and
// acknowledges it with an asynchronous SetupAck push on the same stream.
// The client treats the connection as usable only once the ack arrives.
func (s *Server) handleConnectionSetup(req *remote.Request, meta *remote.Meta) *remote.Response {
	var setup remote.ConnectionSetup
	if err := req.Decode(&setup); err != nil {
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	sc, ok := s.connByID(meta.ConnectionID)
	if !ok {
		return remote.Errorf(req.Kind, remote.CodeFail, "connection %s not registered", meta.ConnectionID)
	}
	sc.applySetup(&setup)
	// Claim the logical identity for this connection. A reconnecting
	// client takes the id over from its dead predecessor here, which
	// tells unregisterConn to leave the registrations alone.
	s.owners.Store(sc.ClientID(), sc.id)
	s.logger.Info("connection setup",
		zap.String("connectionId", sc.id),
		zap.String("clientId", sc.ClientID()),
		zap.String("clientVersion", setup.ClientVersion))

	go s.sendSetupAck(sc)
	return remote.OKResponse(req.Kind)
}

func (s *Server) sendSetupAck(sc *Conn) {
	ack, err := remote.NewRequest(remote.KindSetupAck, &remote.SetupAck{ConnectionID: sc.id})
	if err != nil {
		s.logger.Error("encode setup ack", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := sc.Push(ctx, ack); err != nil {
		s.logger.Warn("setup ack push failed",
			zap.String("connectionId", sc.id), zap.Error(err))
	}
}

func (s *Server) handleHealthCheck(req *remote.Request, meta *remote.Meta) *remote.Response {
	return remote.OKResponse(req.Kind)
}

func (s *Server) handleInstance(req *remote.Request, meta *remote.Meta) *remote.Response {
	var ir remote.InstanceRequest
	if err := req.Decode(&ir); err != nil {
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	if ir.Service.Name == "" || ir.Instance.IP == "" || ir.Instance.Port <= 0 {
		return remote.Errorf(req.Kind, remote.CodeBadRequest,
			"instance request missing service name or instance address")
	}
	svc := naming.NewService(ir.Service.Namespace, ir.Service.Group, ir.Service.Name)

	switch ir.Op {
	case remote.InstanceOpRegister:
		s.index.RegisterInstance(meta.ClientID, svc,
			naming.PublishInfoOf(ir.Instance, time.Now().UnixMilli()))
		if s.metrics != nil {
			s.metrics.InstancesRegistered.Inc()
		}
	case remote.InstanceOpDeregister:
		if s.index.DeregisterInstance(meta.ClientID, svc) && s.metrics != nil {
			s.metrics.InstancesRegistered.Dec()
		}
	default:
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "unknown instance op %q", ir.Op)
	}
	return remote.OKResponse(req.Kind)
}

func (s *Server) handleServiceQuery(req *remote.Request, meta *remote.Meta) *remote.Response {
	var q remote.ServiceQuery
	if err := req.Decode(&q); err != nil {
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	svc := naming.NewService(q.Service.Namespace, q.Service.Group, q.Service.Name)
	view := *s.store.View(svc)
	view.Hosts = selectHosts(view.Hosts, q.Cluster, q.HealthyOnly)

	resp, err := remote.NewResponse(req.Kind, &remote.ServiceQueryReply{View: view})
	if err != nil {
		return remote.Errorf(req.Kind, remote.CodeFail, "encode reply: %v", err)
	}
	return resp
}

func selectHosts(hosts []naming.Instance, cluster string, healthyOnly bool) []naming.Instance {
	if cluster == "" && !healthyOnly {
		return hosts
	}
	out := make([]naming.Instance, 0, len(hosts))
	for _, h := range hosts {
		if cluster != "" && h.Cluster != cluster {
			continue
		}
		if healthyOnly && !h.Healthy {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (s *Server) handleServiceList(req *remote.Request, meta *remote.Meta) *remote.Response {
	var q remote.ServiceList
	if err := req.Decode(&q); err != nil {
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	var names []string
	for _, svc := range s.index.Services() {
		if q.Namespace != "" && svc.Namespace != q.Namespace {
			continue
		}
		if q.Group != "" && svc.Group != q.Group {
			continue
		}
		names = append(names, svc.GroupedName())
	}
	resp, err := remote.NewResponse(req.Kind, &remote.ServiceListReply{
		Count:    len(names),
		Services: names,
	})
	if err != nil {
		return remote.Errorf(req.Kind, remote.CodeFail, "encode reply: %v", err)
	}
	return resp
}

func (s *Server) handleSubscribe(req *remote.Request, meta *remote.Meta) *remote.Response {
	var sub remote.Subscribe
	if err := req.Decode(&sub); err != nil {
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	svc := naming.NewService(sub.Service.Namespace, sub.Service.Group, sub.Service.Name)
	sc, ok := s.connByID(meta.ConnectionID)
	if !ok {
		return remote.Errorf(req.Kind, remote.CodeFail, "connection %s not registered", meta.ConnectionID)
	}

	if sub.Subscribe {
		s.notifier.Subscribe(svc, sc)
	} else {
		s.notifier.Unsubscribe(svc, sc.id)
	}
	resp, err := remote.NewResponse(req.Kind, &remote.SubscribeReply{View: *s.store.View(svc)})
	if err != nil {
		return remote.Errorf(req.Kind, remote.CodeFail, "encode reply: %v", err)
	}
	return resp
}

// handleClientBeat answers an unknown instance with CodeNotFound so the
// client re-registers from its local buffer instead of beating forever
// into the void.
func (s *Server) handleClientBeat(req *remote.Request, meta *remote.Meta) *remote.Response {
	var beat remote.ClientBeat
	if err := req.Decode(&beat); err != nil {
		return remote.Errorf(req.Kind, remote.CodeBadRequest, "%v", err)
	}
	if s.metrics != nil {
		s.metrics.BeatsTotal.Inc()
	}
	svc := naming.NewService(beat.Service.Namespace, beat.Service.Group, beat.Service.Name)
	if !s.monitor.ProcessBeat(health.Beat{
		Service: svc,
		IP:      beat.IP,
		Port:    beat.Port,
		Cluster: beat.Cluster,
	}) {
		return remote.Errorf(req.Kind, remote.CodeNotFound, "instance not found for beat")
	}
	return remote.OKResponse(req.Kind)
}
