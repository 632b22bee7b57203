package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/paygate/internal/repository"
)

// WebhookDocument представляет документ в коллекции webhook_events
type WebhookDocument struct {
	EventID     string    `bson:"event_id"`
	EventType   string    `bson:"event_type"`
	ProviderRef string    `bson:"provider_ref"`
	Result      string    `bson:"result"`
	Payload     string    `bson:"payload"`
	ReceivedAt  time.Time `bson:"received_at"`
}

// WebhookArchive сохраняет сырые webhook события в MongoDB
type WebhookArchive struct {
	client *mongo.Client
	col    *mongo.Collection
}

// NewWebhookArchive создаёт архив и уникальный индекс на event_id
func NewWebhookArchive(client *mongo.Client, dbName string) *WebhookArchive {
	col := client.Database(dbName).Collection("webhook_events")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "provider_ref", Value: 1}, {Key: "received_at", Value: -1}},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Создаём индексы (если уже существуют - игнорируем ошибку)
	_, _ = col.Indexes().CreateMany(ctx, indexes)

	return &WebhookArchive{
		client: client,
		col:    col,
	}
}

// Archive сохраняет событие; повторная доставка того же event_id перезаписывает документ
func (a *WebhookArchive) Archive(ctx context.Context, rec repository.WebhookRecord) error {
	doc := WebhookDocument{
		EventID:     rec.EventID,
		EventType:   rec.EventType,
		ProviderRef: rec.ProviderRef,
		Result:      rec.Result,
		Payload:     string(rec.Payload),
		ReceivedAt:  rec.ReceivedAt,
	}
	opts := options.Replace().SetUpsert(true)
	_, err := a.col.ReplaceOne(ctx, bson.M{"event_id": rec.EventID}, doc, opts)
	return err
}

// ListByProviderRef возвращает события по ссылке провайдера, от новых к старым
func (a *WebhookArchive) ListByProviderRef(ctx context.Context, providerRef string) ([]repository.WebhookRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	cur, err := a.col.Find(ctx, bson.M{"provider_ref": providerRef}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []WebhookDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]repository.WebhookRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, repository.WebhookRecord{
			EventID:     d.EventID,
			EventType:   d.EventType,
			ProviderRef: d.ProviderRef,
			Result:      d.Result,
			Payload:     []byte(d.Payload),
			ReceivedAt:  d.ReceivedAt,
		})
	}
	return out, nil
}

// Ping проверяет соединение с MongoDB (для /health)
func (a *WebhookArchive) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, nil)
}
