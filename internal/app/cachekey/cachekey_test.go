package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "products_page_1_lamp_user_false", List(1, "lamp", false))
	assert.Equal(t, "products_page_2__user_true", List(2, "", true))
	assert.NotEqual(t, List(1, "lamp", true), List(1, "lamp", false))

	assert.Equal(t, "product_abc", Product("abc"))
	assert.Equal(t, "product_show_abc", Show("abc"))
	assert.ElementsMatch(t, []string{"product_abc", "product_show_abc"}, Record("abc"))
}

func TestDefaultTTLs(t *testing.T) {
	ttls := DefaultTTLs()
	assert.Equal(t, ListTTL, ttls.List)
	assert.Equal(t, ShowTTL, ttls.Show)
	assert.Equal(t, RecordTTL, ttls.Record)
	assert.Less(t, ttls.Show, ttls.List)
}
