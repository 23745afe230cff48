package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	c, err := Load("")
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, 5000, c.Port)
	assert.Equal(t, 30*time.Second, c.PaymentWindow)
	assert.Equal(t, 2*time.Minute, c.CheckoutWindow)
	assert.Equal(t, devSecret, c.JWTSecret)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, "Asia/Ho_Chi_Minh", c.Location().String())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drinkshop.yaml")
	yaml := `
env: prod
port: 8080
jwt_secret: from-file
payment_window: 45s
delivery_fee: 20000
promos:
  - code: welcome10
    percent_off: 10
    min_subtotal: 50000
    max_discount: 20000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("DRINKSHOP_PORT", "9090")
	t.Setenv("DRINKSHOP_KAFKA_BROKERS", "k1:9092, k2:9092")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "from-file", c.JWTSecret)
	assert.Equal(t, 45*time.Second, c.PaymentWindow)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, "20000", c.DeliveryFeeAmount().String())

	promos := c.DomainPromos()
	require.Len(t, promos, 1)
	assert.Equal(t, "welcome10", promos[0].Code)
	assert.Equal(t, "10", promos[0].PercentOff.String())
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".env", []byte("PORT=7070\nBANK_BIN=970436\nBANK_ACCOUNT=0011\n"), 0o644))

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Port)
	assert.True(t, c.BankQREnabled())
}

func TestLoad_LeavesValidationToCaller(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DRINKSHOP_ENV", "prod")

	c, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, c.JWTSecret)
	assert.Error(t, c.Validate())

	c.JWTSecret = "from-flag"
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Env = "prod"
	assert.Error(t, c.Validate())

	c.JWTSecret = "s"
	require.NoError(t, c.Validate())

	c.Timezone = "Mars/Olympus"
	assert.Error(t, c.Validate())

	c = Default()
	c.Promos = []PromoConfig{{Code: "BAD", PercentOff: 150}}
	assert.Error(t, c.Validate())
}
