package importer

import (
	"strings"
	"testing"

	"github.com/deknijf/documentstore/internal/common"
	"github.com/deknijf/documentstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vdkStatement = `Rekeningnummer;BE68 5390 0754 7034
Naam;Jan Peeters
Periode;01/03/2024 - 31/03/2024

Uitvoeringsdatum;Valutadatum;VDK-refertenummer;Tegenpartij naam;Tegenrekening;Mededeling;Bedrag
03/03/2024;04/03/2024;VDK-001;Colruyt Gent;BE11 2222 3333 4444;Boodschappen;-45,20
05/03/2024;05/03/2024;VDK-002;Acme NV;BE55 6666 7777 8888;Loon maart;2.500,00
`

const sampleOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>EUR
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>POS PURCHASE Bakkerij Jansen
<MEMO>brood en koffiekoeken
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240125120000[0:GMT]
<TRNAMT>2500.00
<FITID>2024012501
<NAME>Acme NV
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func codaLine(fields map[int]string) string {
	line := []byte(strings.Repeat(" ", 128))
	for pos, v := range fields {
		copy(line[pos:], v)
	}
	return string(line)
}

func sampleCODA() string {
	lines := []string{
		codaLine(map[int]string{0: "0000018032472505"}),
		codaLine(map[int]string{0: "12001", 5: "BE68539007547034", 39: "EUR"}),
		codaLine(map[int]string{0: "21", 2: "0001", 6: "0000", 10: "BANKREF0000000000001", 31: "1",
			32: "000000000045200", 47: "030324", 53: "00501000", 61: "0", 62: "Boodschappen week 9", 115: "030324"}),
		codaLine(map[int]string{0: "23", 2: "0001", 6: "0000", 10: "BE11222233334444                  EUR", 47: "Colruyt Gent"}),
		codaLine(map[int]string{0: "21", 2: "0002", 6: "0000", 10: "BANKREF0000000000002", 31: "0",
			32: "000000002500000", 47: "050324", 61: "1", 62: "101", 65: "090933755493", 115: "050324"}),
		codaLine(map[int]string{0: "21", 2: "0002", 6: "0001", 10: "BANKREF0000000000002", 31: "0",
			32: "000000001000000", 47: "050324", 115: "050324"}),
		codaLine(map[int]string{0: "8001"}),
		codaLine(map[int]string{0: "9"}),
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestParseCSV_BankExportWithPreamble(t *testing.T) {
	txs := ParseCSV("vdk.csv", []byte(vdkStatement))
	require.Len(t, txs, 2)

	first := txs[0]
	assert.Equal(t, "VDK-001", first.ExternalTransactionID)
	assert.Equal(t, "2024-03-03", model.FormatDate(first.BookingDate))
	assert.Equal(t, "2024-03-04", model.FormatDate(first.ValueDate))
	assert.InDelta(t, -45.20, first.Amount, 0.001)
	assert.Equal(t, "Colruyt Gent", first.CounterpartyName)
	assert.Equal(t, "BE11 2222 3333 4444", first.CounterpartyIBAN)
	assert.Equal(t, "Boodschappen", first.RemittanceInformation)
	assert.Contains(t, first.RawJSON, `"Naam":"Jan Peeters"`)
	assert.Contains(t, first.RawJSON, `"source_filename":"vdk.csv"`)

	assert.InDelta(t, 2500.0, txs[1].Amount, 0.001)
}

func TestParseCSV_Layouts(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []float64
	}{
		{
			name:    "debit and credit columns",
			content: "Date,Description,Debit,Credit\n2024-01-15,Coffee shop,3.50,\n2024-01-16,Refund,,12.00\n",
			want:    []float64{-3.50, 12.00},
		},
		{
			name:    "sign column",
			content: "Datum;Bedrag;D/C;Omschrijving\n01/02/2024;12,50;D;Bakker\n02/02/2024;7,00;C;Terugbetaling\n",
			want:    []float64{-12.50, 7.00},
		},
		{
			name:    "tab separated with euro sign",
			content: "Date\tAmount\tDescription\tCounterparty\n2024-05-01\t€ -19,99\tStreaming\tNetflix\n",
			want:    []float64{-19.99},
		},
		{
			name:    "no header falls back to line scanning",
			content: "15/01/2024;Bakker Jan;brood;-3,20\n16/01/2024;Shell;tanken;-60,00\n",
			want:    []float64{-3.20, -60.00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := ParseCSV("statement.csv", []byte(tt.content))
			require.Len(t, txs, len(tt.want))
			for i, want := range tt.want {
				assert.InDelta(t, want, txs[i].Amount, 0.001, "row %d", i)
				assert.False(t, txs[i].BookingDate.IsZero(), "row %d", i)
			}
		})
	}
}

func TestParseCSV_LineFallbackFields(t *testing.T) {
	txs := ParseCSV("x.csv", []byte("15/01/2024;Bakker Jan;brood;-3,20\n16/01/2024;Shell;tanken;-60,00\n"))
	require.Len(t, txs, 2)
	assert.Equal(t, "Bakker Jan", txs[0].CounterpartyName)
	assert.Equal(t, "brood", txs[0].RemittanceInformation)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "1.234,56", want: "1234.56", ok: true},
		{in: "-45,20", want: "-45.2", ok: true},
		{in: "+12.5", want: "12.5", ok: true},
		{in: "12,50-", want: "-12.5", ok: true},
		{in: "EUR 10", want: "10", ok: true},
		{in: "", ok: false},
		{in: "n/a", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseAmount(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.String())
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "tegenpartijnaam", normalizeKey(" Tegenpartij naam "))
	assert.Equal(t, "bedrageur", normalizeKey("Bédrag (EUR)"))
	assert.Equal(t, "vdkrefertenummer", normalizeKey("VDK-refertenummer"))
}

func TestParseCODA(t *testing.T) {
	txs := ParseCODA([]byte(sampleCODA()))
	require.Len(t, txs, 2)

	first := txs[0]
	assert.Equal(t, "BANKREF0000000000001", first.ExternalTransactionID)
	assert.InDelta(t, -45.20, first.Amount, 0.001)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, "2024-03-03", model.FormatDate(first.BookingDate))
	assert.Equal(t, "Colruyt Gent", first.CounterpartyName)
	assert.Equal(t, "BE11222233334444", first.CounterpartyIBAN)
	assert.Equal(t, "Boodschappen week 9", first.RemittanceInformation)

	second := txs[1]
	assert.InDelta(t, 2500.0, second.Amount, 0.001)
	assert.Equal(t, "+++090/9337/55493+++", second.RemittanceInformation)
}

func TestParseOFX(t *testing.T) {
	txs, err := ParseOFX([]byte(sampleOFX), common.ComponentLogger("test"))
	require.NoError(t, err)
	require.Len(t, txs, 2)

	debit := txs[0]
	assert.Equal(t, "2024011501", debit.ExternalTransactionID)
	assert.InDelta(t, -25.50, debit.Amount, 0.001)
	assert.Equal(t, "EUR", debit.Currency)
	assert.Equal(t, "Bakkerij Jansen", debit.CounterpartyName)
	assert.Equal(t, "brood en koffiekoeken", debit.RemittanceInformation)
	assert.Equal(t, "2024-01-15", model.FormatDate(debit.BookingDate))

	credit := txs[1]
	assert.InDelta(t, 2500.0, credit.Amount, 0.001)
	assert.Equal(t, "Acme NV", credit.RemittanceInformation)

	_, err = ParseOFX([]byte("not valid OFX"), common.ComponentLogger("test"))
	require.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{name: "ofx extension", file: "jan.QFX", content: "", want: FormatOFX},
		{name: "ofx content", file: "export.txt", content: sampleOFX, want: FormatOFX},
		{name: "coda extension", file: "stmt.cod", content: "", want: FormatCODA},
		{name: "coda content", file: "stmt.txt", content: sampleCODA(), want: FormatCODA},
		{name: "csv", file: "stmt.csv", content: vdkStatement, want: FormatCSV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.file, []byte(tt.content)))
		})
	}
}
