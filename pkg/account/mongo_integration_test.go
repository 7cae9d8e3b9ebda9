package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/account"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/logging"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/meter"
)

// startMongo boots a disposable MongoDB and returns a collection handle.
func startMongo(t *testing.T) *mongo.Collection {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcmongo.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("could not start mongo container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return client.Database("transitive").Collection("accounts")
}

func TestCache_RefreshAndFlushRoundtrip(t *testing.T) {
	collection := startMongo(t)
	ctx := context.Background()

	_, err := collection.InsertMany(ctx, []any{
		bson.M{"_id": "org-free", "jwtSecret": "s1", "free": true},
		bson.M{
			"_id": "org-paying", "jwtSecret": "s2",
			"stripeCustomer": bson.M{
				"invoice_settings": bson.M{"default_payment_method": "pm_123"},
			},
			"cap_usage": bson.M{"ros-tool": int64(42)},
		},
		bson.M{
			"_id": "org-delinquent", "jwtSecret": "s3",
			"stripeCustomer": bson.M{
				"invoice_settings": bson.M{"default_payment_method": "pm_456"},
				"delinquent":       true,
			},
		},
	})
	require.NoError(t, err)

	cache := account.NewCache(collection, logging.Nop())
	require.NoError(t, cache.Refresh(ctx))

	free := cache.Get("org-free")
	require.NotNil(t, free)
	assert.Equal(t, "s1", free.JWTSecret)
	assert.True(t, free.CanPay)

	paying := cache.Get("org-paying")
	require.NotNil(t, paying)
	assert.True(t, paying.CanPay)
	assert.Equal(t, int64(42), paying.Snapshot()["ros-tool"])

	delinquent := cache.Get("org-delinquent")
	require.NotNil(t, delinquent)
	assert.False(t, delinquent.CanPay)

	// Meter some reads and flush them back to the store.
	paying.AddRead("ros-tool", 1000)
	flusher := meter.NewFlusher(collection, cache, logging.Nop(), time.Now())
	require.NoError(t, flusher.Flush(ctx, time.Now()))

	var doc struct {
		CapUsage map[string]int64 `bson:"cap_usage"`
	}
	require.NoError(t, collection.FindOne(ctx, bson.M{"_id": "org-paying"}).Decode(&doc))
	assert.Equal(t, int64(1042), doc.CapUsage["ros-tool"])
}

func TestCache_EnsureSecretRefreshesOnMiss(t *testing.T) {
	collection := startMongo(t)
	ctx := context.Background()

	cache := account.NewCache(collection, logging.Nop())
	require.NoError(t, cache.Refresh(ctx))

	// Account appears in the store after the initial refresh, as happens
	// when a user signs up while the broker is running.
	_, err := collection.InsertOne(ctx, bson.M{"_id": "late-org", "jwtSecret": "late-secret"})
	require.NoError(t, err)

	secret, ok := cache.EnsureSecret(ctx, "late-org")
	require.True(t, ok)
	assert.Equal(t, "late-secret", secret)

	_, ok = cache.EnsureSecret(ctx, "never-existed")
	assert.False(t, ok)
}
