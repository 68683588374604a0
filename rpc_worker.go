package ocrsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"github.com/streadway/amqp"
)

// OcrRpcWorker consumes delegated recognition attempts from the
// exchange, runs them through a local engine and publishes the result
// back to the caller's reply queue.
type OcrRpcWorker struct {
	rabbitConfig   RabbitConfig
	engine         OcrEngine
	attemptTimeout time.Duration
	conn           *amqp.Connection
	channel        *amqp.Channel
	tag            string
	Done           chan error
}

var (
	// tag is based on ksuid K-Sortable Globally Unique IDs
	workerTag = ksuid.New().String()
)

func NewOcrRpcWorker(rabbitConfig RabbitConfig, engineConfig *EngineConfig) (*OcrRpcWorker, error) {
	ocrRpcWorker := &OcrRpcWorker{
		rabbitConfig:   rabbitConfig,
		engine:         NewTesseractEngine(engineConfig),
		attemptTimeout: engineConfig.AttemptTimeout,
		conn:           nil,
		channel:        nil,
		tag:            workerTag,
		Done:           make(chan error),
	}
	return ocrRpcWorker, nil
}

func (w *OcrRpcWorker) Run() error {

	var err error

	log.Info().Str("component", "OCR_WORKER").
		Str("tag", w.tag).
		Str("host", w.rabbitConfig.AmqpURI).
		Msg("dialing rabbitMq")

	w.conn, err = amqp.Dial(w.rabbitConfig.AmqpURI)
	if err != nil {
		log.Warn().Str("component", "OCR_WORKER").Err(err).
			Str("tag", w.tag).
			Msg("error connecting to rabbitMq")
		return err
	}

	go func() {
		closed := <-w.conn.NotifyClose(make(chan *amqp.Error))
		log.Warn().Str("component", "OCR_WORKER").
			Str("tag", w.tag).
			Msgf("amqp connection closed: %v", closed)
	}()

	w.channel, err = w.conn.Channel()
	if err != nil {
		return err
	}
	// prefetchCount 1 keeps per-worker memory bounded
	if err = w.channel.Qos(1, 0, true); err != nil {
		return err
	}

	if err = w.channel.ExchangeDeclare(
		w.rabbitConfig.Exchange,     // name of the exchange
		w.rabbitConfig.ExchangeType, // type
		true,                        // durable
		false,                       // delete when complete
		false,                       // internal
		false,                       // noWait
		nil,                         // arguments
	); err != nil {
		return err
	}

	// just use the routing key as the queue name, since there's no reason
	// to have a different name
	queueName := w.rabbitConfig.RoutingKey

	queue, err := w.channel.QueueDeclare(
		queueName, // name of the queue
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // noWait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	if err = w.channel.QueueBind(
		queue.Name,                // name of the queue
		w.rabbitConfig.RoutingKey, // bindingKey
		w.rabbitConfig.Exchange,   // sourceExchange
		false,                     // noWait
		nil,                       // arguments
	); err != nil {
		return err
	}

	log.Info().Str("component", "OCR_WORKER").Str("tag", w.tag).
		Str("RoutingKey", w.rabbitConfig.RoutingKey).
		Msg("queue bound to exchange, starting consume")
	deliveries, err := w.channel.Consume(
		queue.Name, // name
		w.tag,      // consumerTag
		false,      // noAck
		false,      // exclusive
		false,      // noLocal
		false,      // noWait
		nil,        // arguments
	)
	if err != nil {
		return err
	}

	go w.handle(deliveries, w.Done)

	return nil
}

func (w *OcrRpcWorker) Shutdown() error {
	// will close() the deliveries channel
	if err := w.channel.Cancel(w.tag, true); err != nil {
		return fmt.Errorf("worker with tag %s cancel failed: %s", w.tag, err)
	}

	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("AMQP connection with worker %s close error: %s", w.tag, err)
	}

	defer log.Info().Str("component", "OCR_WORKER").
		Str("tag", w.tag).
		Msg("shutdown OK")

	// wait for handle() to exit
	return <-w.Done
}

func (w *OcrRpcWorker) handle(deliveries <-chan amqp.Delivery, done chan error) {
	for d := range deliveries {
		log.Info().Str("component", "OCR_WORKER").
			Str("tag", w.tag).
			Int("msg_size", len(d.Body)).
			Str("CorrelationId", d.CorrelationId).
			Str("ReplyTo", d.ReplyTo).
			Msg("got delivery")

		result := w.resultForDelivery(d)

		if err := w.sendRpcResponse(result, d.ReplyTo, d.CorrelationId); err != nil {
			log.Error().Err(err).Str("component", "OCR_WORKER").
				Str("Id", d.CorrelationId).
				Str("tag", w.tag).
				Msg("error sending rpc response")

			// if we can't send our response, let's just abort
			done <- err
			break
		}
		if err := d.Ack(false); err != nil {
			log.Warn().Str("component", "OCR_WORKER").Err(err).
				Str("tag", w.tag).
				Msg("Ack() was not successful")
		}
	}
	log.Info().Str("component", "OCR_WORKER").
		Str("tag", w.tag).
		Msg("handle: deliveries channel closed")
	done <- fmt.Errorf("handle: deliveries channel closed")
}

func (w *OcrRpcWorker) resultForDelivery(d amqp.Delivery) OcrResult {

	envelope := attemptEnvelope{}
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		log.Error().Err(err).Caller().
			Str("Id", d.CorrelationId).
			Str("tag", w.tag).
			Msg("error unmarshalling json delivery")
		return OcrResult{Failure: FailureBackend, Error: "undecodable attempt envelope: " + err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.attemptTimeout)
	defer cancel()

	result, err := w.engine.Recognize(ctx, envelope.ImgBytes, envelope.Config)
	if err != nil {
		log.Error().Err(err).Str("component", "OCR_WORKER").
			Str("Id", envelope.RequestID).
			Str("tag", w.tag).
			Msg("error processing attempt")
		return OcrResult{Failure: FailureBackend, Error: err.Error()}
	}
	return result
}

func (w *OcrRpcWorker) sendRpcResponse(result OcrResult, replyTo string, correlationID string) error {

	if w.rabbitConfig.Reliable {
		// Do not use Reliable=true due to major issues that will
		// completely wedge the rpc worker. Setting the buffered
		// channels length higher would delay the problem, but then it
		// would still happen later.
		if err := w.channel.Confirm(false); err != nil {
			return err
		}
		ack, nack := w.channel.NotifyConfirm(make(chan uint64, 100), make(chan uint64, 100))
		defer confirmDelivery(ack, nack)
	}

	log.Info().Str("component", "OCR_WORKER").
		Str("tag", w.tag).
		Str("Id", correlationID).
		Str("replyTo", replyTo).Msg("sendRpcResponse to")

	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return w.channel.Publish(
		w.rabbitConfig.Exchange, // publish to an exchange
		replyTo,                 // routing to the callback queue
		false,                   // mandatory
		false,                   // immediate
		amqp.Publishing{
			Headers:       amqp.Table{},
			ContentType:   "application/json",
			Body:          body,
			DeliveryMode:  amqp.Transient,
			CorrelationId: correlationID,
		},
	)
}
