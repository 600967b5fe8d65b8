package handlers

import (
	"io"

	"github.com/gin-gonic/gin"
)

// MakeEventsHandler streams saga outcomes over SSE. Without a query
// parameter it follows every outcome; with ?transaction_id= it delivers
// that saga's result (immediately, if the saga already finished) and ends
// the stream.
func MakeEventsHandler(container HandlerDependencies) gin.HandlerFunc {
	broker := container.GetEventBroker()

	return func(c *gin.Context) {
		if txID := c.Query("transaction_id"); txID != "" {
			sub := broker.SubscribeTx(txID)
			defer sub.Cancel()

			c.Stream(func(w io.Writer) bool {
				select {
				case evt, ok := <-sub.C:
					if ok {
						c.SSEvent("saga", evt)
					}
					return false // one outcome per transaction
				case <-c.Request.Context().Done():
					return false
				}
			})
			return
		}

		sub := broker.Subscribe()
		defer sub.Cancel()

		c.Stream(func(w io.Writer) bool {
			select {
			case evt, ok := <-sub.C:
				if !ok {
					return false
				}
				c.SSEvent("saga", evt)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
