package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		title, description, want string
	}{
		{"Seca atinge lavouras", "", "Clima"},
		{"Exportação de soja cresce", "", "Mercado"},
		{"Startup lança app para produtores", "", "Tecnologia"},
		{"Café orgânico ganha mercado", "", "Mercado"}, // Mercado is checked before Sustentabilidade
		{"Crédito de carbono no campo", "", "Sustentabilidade"},
		{"Colheita de milho avança", "safra recorde", "Agricultura"},
		{"Nova cultivar", "CHUVA favorece plantio", "Clima"},
	}
	for _, tc := range tests {
		t.Run(tc.title, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.title, tc.description))
		})
	}
}

func TestSearchTerm(t *testing.T) {
	assert.Equal(t, "Londrina", SearchTerm("Londrina, Paraná", "Paraná"))
	assert.Equal(t, "Paraná", SearchTerm("-23.3045, -51.1696", "Paraná"))
	assert.Equal(t, "Paraná", SearchTerm("", "Paraná"))
	assert.Equal(t, DefaultSearchTerm, SearchTerm("", ""))
}

func TestBuildRegionalNews_FillsDefaults(t *testing.T) {
	news := BuildRegionalNews("Goiás", []Article{
		{Title: "Chuva volta ao cerrado", URL: "https://example.com/a"},
		{Title: "Mercado de grãos", Description: "alta nos preços", Source: "Canal Rural", Image: "https://img"},
	})

	assert.Equal(t, "Goiás", news.SearchTerm)
	assert.Equal(t, NewsCategories, news.Categories)
	if assert.Len(t, news.Articles, 2) {
		assert.Equal(t, defaultDescription, news.Articles[0].Description)
		assert.Equal(t, defaultSource, news.Articles[0].Source)
		assert.Equal(t, defaultImage, news.Articles[0].Image)
		assert.Equal(t, "Clima", news.Articles[0].Category)
		assert.Equal(t, "Canal Rural", news.Articles[1].Source)
		assert.Equal(t, "Mercado", news.Articles[1].Category)
	}
}

func TestPlace_Label(t *testing.T) {
	assert.Equal(t, "Sorriso, Mato Grosso", Place{City: "Sorriso", State: "Mato Grosso"}.Label())
	assert.Equal(t, "Sorriso", Place{City: "Sorriso"}.Label())
	assert.Equal(t, "Mato Grosso", Place{State: "Mato Grosso"}.Label())
	assert.Equal(t, "Brasil", Place{DisplayName: "Brasil"}.Label())
	assert.True(t, Place{}.Empty())
}
