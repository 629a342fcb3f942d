package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The invoices were PROCESSED, then indexed.")
	assert.Equal(t, []string{"invoic", "process", "then", "index"}, terms(tokens))
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Position)
	}
}

func TestFoldStripsDiacritics(t *testing.T) {
	assert.Equal(t, "facturacion electronica", Fold("Facturación Electrónica"))
	assert.Equal(t, Term("Información"), Term("informacion"))
	assert.Equal(t, Term("SÃO"), Term("sao"))
}

func TestStopWordsAndNoise(t *testing.T) {
	assert.Empty(t, Tokenize("the of a x y z"))
	assert.Empty(t, Tokenize("de la en los"))
	assert.Equal(t, "", Term("the"))
	assert.Equal(t, []string{"42"}, terms(Tokenize("-- 42 --")))
}

var sampleTexts = map[string]string{
	"short": "Invoice 2026-0113 issued to ACME Corp for consulting services",
	"medium": `Este contrato de prestación de servicios se celebra entre las partes
        identificadas a continuación. El proveedor se compromete a entregar los
        informes mensuales dentro de los primeros cinco días hábiles de cada mes.`,
	"long": strings.Repeat(`Scanned delivery notes often arrive without a text layer, so the
        pipeline rasterises each page and runs OCR before chunking the result for
        the search index. Chunks keep their order so the document can be rebuilt. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	baseWord := "document processing pipeline extraction "
	for _, size := range []int{10, 100, 500, 1000, 5000} {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}
