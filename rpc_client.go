package ocrsession

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"github.com/streadway/amqp"
)

// attemptEnvelope is the wire form of one delegated recognition
// attempt. The image bytes travel base64-encoded inside the json body.
type attemptEnvelope struct {
	RequestID string            `json:"request_id"`
	ImgBytes  []byte            `json:"img_bytes"`
	Config    RecognitionConfig `json:"config"`
}

// RpcEngine hands single attempts to remote workers over RabbitMQ and
// waits for the correlated reply. It satisfies OcrEngine, so the
// pipeline does not care whether recognition happens in-process or on
// another machine.
type RpcEngine struct {
	rabbitConfig RabbitConfig
}

func NewRpcEngine(rabbitConfig RabbitConfig) *RpcEngine {
	return &RpcEngine{rabbitConfig: rabbitConfig}
}

func (c *RpcEngine) Recognize(ctx context.Context, imgBytes []byte, config RecognitionConfig) (OcrResult, error) {

	correlationID := ksuid.New().String()

	log.Debug().Str("component", "OCR_CLIENT").Str("RequestID", correlationID).
		Msg("dialing rabbitMq")
	connection, err := amqp.Dial(c.rabbitConfig.AmqpURI)
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}
	defer func() { _ = connection.Close() }()

	channel, err := connection.Channel()
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	if err := channel.ExchangeDeclare(
		c.rabbitConfig.Exchange,     // name
		c.rabbitConfig.ExchangeType, // type
		true,                        // durable
		false,                       // auto-deleted
		false,                       // internal
		false,                       // noWait
		nil,                         // arguments
	); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	replyChan := make(chan OcrResult, 1)
	callbackQueue, err := c.subscribeCallbackQueue(channel, correlationID, replyChan)
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	if c.rabbitConfig.Reliable {
		if err := channel.Confirm(false); err != nil {
			return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
		}
		ack, nack := channel.NotifyConfirm(make(chan uint64, 1), make(chan uint64, 1))
		defer confirmDelivery(ack, nack)
	}

	envelope := attemptEnvelope{
		RequestID: correlationID,
		ImgBytes:  imgBytes,
		Config:    config,
	}
	envelopeJSON, err := json.Marshal(envelope)
	if err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	if err = channel.Publish(
		c.rabbitConfig.Exchange,
		c.rabbitConfig.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:       amqp.Table{},
			ContentType:   "application/json",
			Body:          envelopeJSON,
			DeliveryMode:  amqp.Transient,
			ReplyTo:       callbackQueue.Name,
			CorrelationId: correlationID,
		},
	); err != nil {
		return OcrResult{Failure: FailureBackend, Error: err.Error()}, nil
	}

	select {
	case result := <-replyChan:
		return result, nil
	case <-ctx.Done():
		log.Warn().Str("component", "OCR_CLIENT").Str("RequestID", correlationID).
			Msg("timeout waiting for rpc reply")
		return OcrResult{Failure: FailureTimeout, Error: "timeout waiting for rpc reply"}, nil
	}
}

func (c *RpcEngine) subscribeCallbackQueue(channel *amqp.Channel, correlationID string, replyChan chan OcrResult) (amqp.Queue, error) {

	// let rabbit generate a random callback queue name
	callbackQueue, err := channel.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return amqp.Queue{}, err
	}

	if err = channel.QueueBind(
		callbackQueue.Name,      // name of the queue
		callbackQueue.Name,      // bindingKey
		c.rabbitConfig.Exchange, // sourceExchange
		false,                   // noWait
		nil,                     // arguments
	); err != nil {
		return amqp.Queue{}, err
	}

	deliveries, err := channel.Consume(
		callbackQueue.Name, // name
		correlationID,      // consumerTag
		true,               // noAck
		true,               // exclusive
		false,              // noLocal
		false,              // noWait
		nil,                // arguments
	)
	if err != nil {
		return amqp.Queue{}, err
	}

	go handleRpcReply(deliveries, correlationID, replyChan)

	return callbackQueue, nil
}

func handleRpcReply(deliveries <-chan amqp.Delivery, correlationID string, replyChan chan OcrResult) {
	for d := range deliveries {
		if d.CorrelationId != correlationID {
			log.Debug().Str("component", "OCR_CLIENT").
				Str("correlation_id", d.CorrelationId).
				Msg("ignoring delivery with foreign correlation id")
			continue
		}

		result := OcrResult{}
		if err := json.Unmarshal(d.Body, &result); err != nil {
			result = OcrResult{Failure: FailureBackend, Error: "undecodable rpc reply: " + err.Error()}
		}
		replyChan <- result
		return
	}
}

func confirmDelivery(ack, nack chan uint64) {
	select {
	case tag := <-ack:
		log.Debug().Str("component", "OCR_CLIENT").Uint64("tag", tag).
			Msg("confirmed delivery")
	case tag := <-nack:
		log.Warn().Str("component", "OCR_CLIENT").Uint64("tag", tag).
			Msg("failed to confirm delivery")
	}
}
