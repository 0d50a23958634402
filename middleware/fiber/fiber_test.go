package fiber

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmw "github.com/mihaimyh/paysync/middleware/http"
	"github.com/mihaimyh/paysync/middleware/internal/routetest"
)

func TestRegister(t *testing.T) {
	ctrl := &routetest.Controller{}
	app := fiber.New()
	require.NoError(t, Register(app, httpmw.Config{Webhook: routetest.Webhook(), Admin: routetest.NewAdmin(t, ctrl)}))

	routetest.Run(t, func(t *testing.T, req *http.Request) *http.Response {
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}, ctrl)
}

func TestRegister_RequiresWebhook(t *testing.T) {
	assert.Error(t, Register(fiber.New(), httpmw.Config{}))
}
