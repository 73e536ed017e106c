package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/router-agent/internal/constants"
	mqtt_middleware "github.com/benmeehan/router-agent/internal/middlewares/mqtt"
	"github.com/benmeehan/router-agent/internal/models"
	"github.com/benmeehan/router-agent/internal/state_managers"
	"github.com/benmeehan/router-agent/internal/utils"
	"github.com/benmeehan/router-agent/pkg/mqtt"
	"github.com/benmeehan/router-agent/pkg/router"
)

var (
	errInvalidRequest = errors.New("invalid request")
	errNotConnected   = errors.New("router not connected")
	errBusy           = errors.New("command queue is full")
)

// CommandService executes router operations received on
// <topic>/<router> and publishes the results to <topic>/<router>/response.
// Commands run on a worker pool; each session serialises its own I/O, so
// commands for different routers proceed in parallel.
type CommandService struct {
	// Configuration Fields
	subTopic         string
	eventTopic       string
	qos              int
	workers          int
	maxExecutionTime time.Duration

	// Dependencies
	store      *state_managers.SessionStore
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	// Internal state management
	pool   *utils.WorkerPool
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewCommandService initializes a new CommandService. An empty eventTopic
// disables label events.
func NewCommandService(subTopic, eventTopic string, qos, workers int, maxExecutionTime time.Duration,
	store *state_managers.SessionStore, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *CommandService {
	if workers <= 0 {
		workers = utils.DefaultCommandWorkers
	}
	if maxExecutionTime <= 0 {
		maxExecutionTime = utils.DefaultMaxExecutionTime
	}

	return &CommandService{
		subTopic:         subTopic,
		eventTopic:       eventTopic,
		qos:              qos,
		workers:          workers,
		maxExecutionTime: maxExecutionTime,
		store:            store,
		mqttClient:       mqttClient,
		logger:           logger,
	}
}

func (cs *CommandService) topicFilter() string {
	return cs.subTopic + "/+"
}

// Start subscribes to the command topics of every router.
func (cs *CommandService) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ctx != nil {
		return errors.New("command service is already running")
	}

	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.pool = utils.NewWorkerPool(cs.workers, constants.CommandQueueSize)

	topic := cs.topicFilter()
	cs.logger.Info().Str("topic", topic).Msg("Starting CommandService and subscribing to MQTT topic")
	handler := mqtt_middleware.Chain(cs.HandleCommand,
		mqtt_middleware.Recover(cs.logger),
		mqtt_middleware.Logging(cs.logger),
		mqtt_middleware.MaxPayload(constants.MaxCommandPayload, cs.logger),
	)
	token := cs.mqttClient.Subscribe(topic, byte(cs.qos), handler)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		cs.cancel()
		cs.pool.Shutdown()
		cs.ctx, cs.cancel, cs.pool = nil, nil, nil
		return err
	}

	cs.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	return nil
}

// Stop unsubscribes, cancels running commands and waits for the workers.
func (cs *CommandService) Stop() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ctx == nil {
		return errors.New("command service is not running")
	}

	topic := cs.topicFilter()
	token := cs.mqttClient.Unsubscribe(topic)
	token.Wait()
	unsubErr := token.Error()
	if unsubErr != nil {
		cs.logger.Error().Err(unsubErr).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
	}

	cs.cancel()
	cs.pool.Shutdown()
	cs.ctx, cs.cancel, cs.pool = nil, nil, nil

	cs.logger.Info().Msg("CommandService stopped successfully")
	return unsubErr
}

// HandleCommand decodes a command and queues it for execution.
func (cs *CommandService) HandleCommand(_ MQTT.Client, msg MQTT.Message) {
	name, ok := strings.CutPrefix(msg.Topic(), cs.subTopic+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		cs.logger.Debug().Str("topic", msg.Topic()).Msg("Ignoring message outside the command topic")
		return
	}

	var req models.CommandRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		cs.logger.Warn().Err(err).Str("router", name).Msg("Malformed command payload")
		cs.respond(name, cs.failed(name, req, fmt.Errorf("%w: %v", errInvalidRequest, err)))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	cs.mu.Lock()
	pool, ctx := cs.pool, cs.ctx
	cs.mu.Unlock()
	if pool == nil {
		cs.logger.Warn().Str("router", name).Msg("Received command but service is stopped, ignoring command")
		return
	}

	cs.logger.Info().Str("router", name).Str("action", req.Action).Str("request_id", req.RequestID).Msg("Received router command")
	err := pool.TrySubmit(func() {
		cs.respond(name, cs.Execute(ctx, name, req))
	})
	if err != nil {
		cs.logger.Warn().Err(err).Str("router", name).Msg("Command rejected")
		cs.respond(name, cs.failed(name, req, fmt.Errorf("%w: %v", errBusy, err)))
	}
}

// Execute runs one command against the router's session.
func (cs *CommandService) Execute(ctx context.Context, name string, req models.CommandRequest) models.CommandResponse {
	session, ok := cs.store.Session(name)
	if !ok {
		if _, known := cs.store.Get(name); !known {
			return cs.failed(name, req, fmt.Errorf("%w: unknown router %q", errInvalidRequest, name))
		}
		return cs.failed(name, req, errNotConnected)
	}

	ctx, cancel := context.WithTimeout(ctx, cs.maxExecutionTime)
	defer cancel()

	resp := cs.response(name, req)
	var err error
	switch req.Action {
	case constants.ActionInfo:
		info := session.Info()
		resp.Info = &info

	case constants.ActionDownload:
		resp.Labels, err = session.Download(ctx)
		if len(resp.Labels) > 0 {
			cs.publishLabels(ctx, name, req.Action, resp.Labels)
		}

	case constants.ActionUpload:
		if len(req.Labels) == 0 {
			err = fmt.Errorf("%w: upload without labels", errInvalidRequest)
			break
		}
		var result router.UploadResult
		result, err = session.Upload(ctx, req.Labels)
		resp.Upload = &models.UploadSummary{
			Succeeded:   result.SucceededCount(),
			Failed:      result.FailedCount(),
			Unconfirmed: len(result.Unconfirmed),
			FailedPorts: result.FailedPorts(),
		}
		if len(result.Succeeded) > 0 {
			cs.publishLabels(ctx, name, req.Action, landed(result.Succeeded))
		}
		if err == nil && result.FailedCount() > 0 {
			if result.SucceededCount() > 0 {
				resp.Status = constants.CommandStatusPartial
			}
			err = result.Err(session.Kind())
		}

	case constants.ActionCrosspoints:
		info := session.Info()
		if req.Output != nil && (*req.Output < 0 || *req.Output >= info.Outputs) {
			err = fmt.Errorf("%w: output %d outside 0..%d", errInvalidRequest, *req.Output, info.Outputs-1)
			break
		}
		var m router.CrosspointMap
		m, err = session.GetCrosspoints(ctx)
		if err != nil {
			break
		}
		resp.Crosspoints = m
		if req.Output != nil {
			in, _ := m.Routed(*req.Output)
			resp.RoutedInput = &in
		}
		if req.Input != nil {
			resp.FedOutputs = m.OutputsOf(*req.Input)
		}

	case constants.ActionSwitch:
		if req.Output == nil || req.Input == nil {
			err = fmt.Errorf("%w: switch needs output and input", errInvalidRequest)
			break
		}
		_, err = session.Switch(ctx, *req.Output, *req.Input)

	default:
		err = fmt.Errorf("%w: unknown action %q", errInvalidRequest, req.Action)
	}

	if err != nil {
		if resp.Status != constants.CommandStatusPartial {
			resp.Status = constants.CommandStatusFailed
		}
		resp.Error = err.Error()
		resp.ErrorKind = errorKind(err)
		cs.logger.Warn().Err(err).Str("router", name).Str("action", req.Action).Msg("Router command failed")
		return resp
	}
	resp.Status = constants.CommandStatusSuccess
	return resp
}

func (cs *CommandService) response(name string, req models.CommandRequest) models.CommandResponse {
	return models.CommandResponse{
		RequestID: req.RequestID,
		Router:    name,
		Action:    req.Action,
		Timestamp: time.Now().UTC(),
	}
}

func (cs *CommandService) failed(name string, req models.CommandRequest, err error) models.CommandResponse {
	resp := cs.response(name, req)
	resp.Status = constants.CommandStatusFailed
	resp.Error = err.Error()
	resp.ErrorKind = errorKind(err)
	return resp
}

// respond publishes resp to the router's response topic.
func (cs *CommandService) respond(name string, resp models.CommandResponse) {
	topic := fmt.Sprintf("%s/%s/%s", cs.subTopic, name, constants.ResponseSuffix)
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := publishJSON(ctx, cs.mqttClient, topic, cs.qos, resp); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish command response")
		return
	}
	cs.logger.Debug().Str("topic", topic).Str("status", resp.Status).Msg("Command response published")
}

func (cs *CommandService) publishLabels(ctx context.Context, name, action string, labels []router.PortLabel) {
	if cs.eventTopic == "" {
		return
	}
	topic := fmt.Sprintf("%s/%s/%s", cs.eventTopic, name, constants.LabelsSuffix)
	msg := models.LabelsEvent{Router: name, Action: action, Labels: labels, Timestamp: time.Now().UTC()}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
	}
	if err := publishJSON(ctx, cs.mqttClient, topic, cs.qos, msg); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish labels event")
	}
}

// landed turns uploaded records into their new current state.
func landed(labels []router.PortLabel) []router.PortLabel {
	out := make([]router.PortLabel, 0, len(labels))
	for _, l := range labels {
		l.Current, l.Desired = l.Desired, ""
		out = append(out, l)
	}
	return out
}
