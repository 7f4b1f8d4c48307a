// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"io"
	"log/slog"
	"testing"
)

// SampleCDC is the control code of the sample document.
const SampleCDC = "01800628535055001003334022025072617152780206"

// SampleXML is a complete, well-formed SIFEN electronic invoice.
const SampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<rDE xmlns="http://ekuatia.set.gov.py/sifen/xsd">
  <DE Id="` + SampleCDC + `">
    <gTimb>
      <iTiDE>1</iTiDE>
      <dDesTiDE>Factura electrónica</dDesTiDE>
      <dEst>001</dEst>
      <dPunExp>003</dPunExp>
      <dNumDoc>3340220</dNumDoc>
    </gTimb>
    <gDatGralOpe>
      <dFeEmiDE>2025-07-26T17:15:27</dFeEmiDE>
      <gEmis>
        <dRucEm>800628535</dRucEm>
        <dNomEmi>Comercial San Jorge S.A.</dNomEmi>
        <dNomFanEmi>San Jorge</dNomFanEmi>
        <cDepEmi>11</cDepEmi>
        <dDesDepEmi>ALTO PARANA</dDesDepEmi>
        <cCiuEmi>3383</cCiuEmi>
        <dDesCiuEmi>CIUDAD DEL ESTE</dDesCiuEmi>
      </gEmis>
    </gDatGralOpe>
    <gTotSub>
      <dTotOpe>150000.00</dTotOpe>
    </gTotSub>
  </DE>
</rDE>`

// Logger returns a quiet logger for tests.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
