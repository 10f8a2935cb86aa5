// Package ngrams extracts word n-grams from messages and measures how often
// each one is repeated, and by how many posters.
package ngrams

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/dukex/mangotango/pkg/models"
	"github.com/dukex/mangotango/pkg/protocol"
	"github.com/dukex/mangotango/pkg/semantic"
	"github.com/dukex/mangotango/pkg/table"
)

const (
	ID = "ngrams"

	ColAuthorID    = "user_id"
	ColMessageID   = "message_id"
	ColMessageText = "message_text"
	ColCount       = "count"
	ColNgramID     = "ngram_id"
	ColWords       = "words"
	ColLength      = "n"

	OutputMessageNgrams  = "message_ngrams"
	OutputNgrams         = "ngrams"
	OutputMessageAuthors = "message_authors"

	MinN = 3
	MaxN = 5
)

var Analyzer = &models.AnalyzerDeclaration{
	AnalyzerBase: models.AnalyzerBase{
		ID:               ID,
		Version:          "0.1.0",
		Name:             "N-gram Analysis",
		ShortDescription: "Extracts n-grams from text data",
		LongDescription: `The n-gram analysis extracts n-grams (sequences of n words) from the text of
each message and counts the occurrences of each n-gram per message, linking the
message author to the n-gram frequency.

The result shows whether certain word sequences are more common in the corpus,
and whether certain authors use these sequences more often.`,
	},
	Input: models.AnalyzerInput{Columns: []models.InputColumn{
		{
			Name:              ColAuthorID,
			HumanReadableName: "Unique user ID",
			DataType:          semantic.Identifier,
			Description:       "The unique identifier of the author of the message",
			NameHints:         []string{"author", "user", "poster", "username", "screen name", "user name", "name", "email"},
		},
		{
			Name:              ColMessageID,
			HumanReadableName: "Unique message ID",
			DataType:          semantic.Identifier,
			Description:       "The unique identifier of the message",
			NameHints:         []string{"post", "message", "comment", "text", "retweet id", "tweet"},
		},
		{
			Name:              ColMessageText,
			HumanReadableName: "Message text",
			DataType:          semantic.Text,
			Description:       "The text content of the message",
			NameHints:         []string{"message", "text", "comment", "post", "body", "content", "tweet"},
		},
	}},
	Outputs: []models.AnalyzerOutput{
		{
			ID:   OutputMessageNgrams,
			Name: "N-gram count per message",
			Columns: []models.OutputColumn{
				{Name: ColMessageID, HumanReadableName: "Message ID", DataType: semantic.Identifier},
				{Name: ColNgramID, HumanReadableName: "N-gram ID", DataType: semantic.Identifier},
				{Name: ColCount, HumanReadableName: "Count", DataType: semantic.Integer},
			},
		},
		{
			ID:          OutputNgrams,
			Name:        "N-gram definitions",
			Description: "The word compositions of each unique n-gram",
			Columns: []models.OutputColumn{
				{Name: ColNgramID, HumanReadableName: "N-gram ID", DataType: semantic.Identifier},
				{Name: ColWords, HumanReadableName: "N-gram", DataType: semantic.Text},
				{Name: ColLength, HumanReadableName: "Length", DataType: semantic.Integer},
			},
		},
		{
			ID:          OutputMessageAuthors,
			Name:        "Message authorship",
			Description: "Message authorship",
			Internal:    true,
			Columns: []models.OutputColumn{
				{Name: ColAuthorID, DataType: semantic.Identifier},
				{Name: ColMessageID, DataType: semantic.Identifier},
			},
		},
	},
	EntryPoint: analyze,
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
}

// Tokenize lowercases text and splits it into words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isSeparator)
}

// Ngrams returns every run of minN to maxN consecutive tokens, ordered by
// start position and then length.
func Ngrams(tokens []string, minN, maxN int) [][]string {
	var out [][]string
	for i := 0; i+minN <= len(tokens); i++ {
		for n := minN; n <= maxN && i+n <= len(tokens); n++ {
			out = append(out, tokens[i:i+n])
		}
	}

	return out
}

type messageNgram struct {
	messageID string
	ngramID   int
}

// extractor assigns ids to n-grams in order of first appearance.
type extractor struct {
	ids    map[string]int
	words  []string
	counts map[messageNgram]int64
	order  []messageNgram
}

func newExtractor() *extractor {
	return &extractor{
		ids:    make(map[string]int),
		counts: make(map[messageNgram]int64),
	}
}

func (e *extractor) add(messageID, text string) {
	for _, gram := range Ngrams(Tokenize(text), MinN, MaxN) {
		words := strings.Join(gram, " ")

		id, ok := e.ids[words]
		if !ok {
			id = len(e.words)
			e.ids[words] = id
			e.words = append(e.words, words)
		}

		key := messageNgram{messageID: messageID, ngramID: id}
		if _, ok := e.counts[key]; !ok {
			e.order = append(e.order, key)
		}
		e.counts[key]++
	}
}

func (e *extractor) messageNgrams() []table.Row {
	rows := make([]table.Row, len(e.order))
	for i, key := range e.order {
		rows[i] = table.Row{key.messageID, strconv.Itoa(key.ngramID), e.counts[key]}
	}

	return rows
}

func (e *extractor) definitions() []table.Row {
	rows := make([]table.Row, len(e.words))
	for id, words := range e.words {
		rows[id] = table.Row{strconv.Itoa(id), words, int64(strings.Count(words, " ") + 1)}
	}

	return rows
}

func analyze(ctx context.Context, pc protocol.PrimaryContext) error {
	input, err := pc.Input()
	if err != nil {
		return err
	}
	defer input.Close()

	var (
		e       = newExtractor()
		authors []table.Row
		seen    int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := input.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		for _, row := range batch {
			text, ok := row[2].(string)
			if !ok {
				continue
			}

			messageID, _ := row[1].(string)
			e.add(messageID, text)
			authors = append(authors, table.Row{row[0], row[1]})
		}

		seen += int64(len(batch))
		pc.Logger().Debug("Extracting n-grams", "rows", seen, "total", input.NumRows(), "ngrams", len(e.words))
	}

	outputs := map[string][]table.Row{
		OutputMessageNgrams:  e.messageNgrams(),
		OutputNgrams:         e.definitions(),
		OutputMessageAuthors: authors,
	}

	for _, id := range []string{OutputMessageNgrams, OutputNgrams, OutputMessageAuthors} {
		out, err := pc.Output(id)
		if err != nil {
			return err
		}

		if err := protocol.WriteTable(out, outputs[id]); err != nil {
			return err
		}
	}

	return nil
}
