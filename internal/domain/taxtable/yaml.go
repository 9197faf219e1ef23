package taxtable

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"payrun/internal/domain/money"
)

type fileDoc struct {
	Tables []fileTable `yaml:"tables"`
}

type fileTable struct {
	EffectiveFrom string        `yaml:"effective_from"`
	InsuranceRate string        `yaml:"insurance_rate"`
	InsuranceCap  int64         `yaml:"insurance_cap"`
	LevyRate      string        `yaml:"levy_rate"`
	Brackets      []fileBracket `yaml:"brackets"`
}

type fileBracket struct {
	Lower int64  `yaml:"lower"`
	Upper *int64 `yaml:"upper"`
	Rate  string `yaml:"rate"`
}

// Decode reads tax tables from a YAML document. Amounts are annual cents
// for brackets and monthly cents for the insurance cap; rates are decimal
// fractions written as strings.
func Decode(r io.Reader) ([]Table, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tax tables: %w", err)
	}

	tables := make([]Table, 0, len(doc.Tables))
	for i, ft := range doc.Tables {
		table, err := ft.toTable()
		if err != nil {
			return nil, fmt.Errorf("tax table %d: %w", i, err)
		}
		if err := table.Validate(); err != nil {
			return nil, fmt.Errorf("tax table %d: %w", i, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (ft fileTable) toTable() (Table, error) {
	effective, err := time.Parse("2006-01-02", ft.EffectiveFrom)
	if err != nil {
		return Table{}, fmt.Errorf("effective_from: %w", err)
	}
	table := Table{EffectiveFrom: effective, InsuranceCap: ft.InsuranceCap}
	if table.InsuranceRate, err = money.ParseRate(ft.InsuranceRate); err != nil {
		return Table{}, fmt.Errorf("insurance_rate: %w", err)
	}
	if table.LevyRate, err = money.ParseRate(ft.LevyRate); err != nil {
		return Table{}, fmt.Errorf("levy_rate: %w", err)
	}
	for _, fb := range ft.Brackets {
		rate, err := money.ParseRate(fb.Rate)
		if err != nil {
			return Table{}, fmt.Errorf("bracket rate: %w", err)
		}
		table.Brackets = append(table.Brackets, Bracket{Lower: fb.Lower, Upper: fb.Upper, Rate: rate})
	}
	return table, nil
}

type Saver interface {
	Save(ctx context.Context, table Table) (string, error)
}

// ImportFile decodes every table in the YAML file at path and saves them in
// file order. Nothing is saved when any table is invalid.
func ImportFile(ctx context.Context, saver Saver, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	tables, err := Decode(f)
	if err != nil {
		return 0, err
	}
	for i, table := range tables {
		if _, err := saver.Save(ctx, table); err != nil {
			return i, err
		}
	}
	return len(tables), nil
}
