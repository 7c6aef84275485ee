package psscript

import (
	"strings"
	"testing"
)

func TestEscapeSingleQuoted(t *testing.T) {
	cases := map[string]string{
		`plain`:          `plain`,
		`O'Brien`:        `O''Brien`,
		`''`:             `''''`,
		`C:\Temp\x.txt`:  `C:\Temp\x.txt`,
	}
	for in, want := range cases {
		if got := EscapeSingleQuoted(in); got != want {
			t.Errorf("EscapeSingleQuoted(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistryKeyScriptUsesProviderAndStoredPaths(t *testing.T) {
	script := RegistryKey(`HKLM:\SOFTWARE\Vendor`)
	if !strings.Contains(script, `$p = 'Registry::HKEY_LOCAL_MACHINE\SOFTWARE\Vendor'`) {
		t.Errorf("missing provider path:\n%s", script)
	}
	if !strings.Contains(script, `$stored = 'HKEY_LOCAL_MACHINE\SOFTWARE\Vendor'`) {
		t.Errorf("missing stored path:\n%s", script)
	}
	if !strings.Contains(script, "ConvertTo-Json") {
		t.Errorf("script must emit JSON:\n%s", script)
	}
}

func TestRegistryValueEscapesQuotes(t *testing.T) {
	script := RegistryValue(`HKLM\SOFTWARE\O'Brien`, "Name'With'Quotes")
	if strings.Contains(script, `O'Brien'`) {
		t.Errorf("unescaped single quote leaked into script:\n%s", script)
	}
	if !strings.Contains(script, `O''Brien`) {
		t.Errorf("expected escaped path:\n%s", script)
	}
	if !strings.Contains(script, `Name''With''Quotes`) {
		t.Errorf("expected escaped value name:\n%s", script)
	}
}

func TestRegistryValueWithoutNameFallsBackToKeyProbe(t *testing.T) {
	withName := RegistryValue(`HKLM\SOFTWARE\X`, "Enabled")
	without := RegistryValue(`HKLM\SOFTWARE\X`, "   ")
	if without == withName {
		t.Fatal("blank value name should produce the key-existence script")
	}
	if without != RegistryKey(`HKLM\SOFTWARE\X`) {
		t.Errorf("blank value name script differs from RegistryKey output")
	}
}

func TestServiceScriptCarriesQuery(t *testing.T) {
	script := Service("Spooler", `C:\Windows\System32\spoolsv.exe`)
	if !strings.Contains(script, `$name = 'Spooler'`) {
		t.Errorf("missing service name:\n%s", script)
	}
	if !strings.Contains(script, `spoolsv.exe`) {
		t.Errorf("missing executable path:\n%s", script)
	}
	if !strings.Contains(script, "matchedBy") {
		t.Errorf("service script must report matchedBy")
	}
}

func TestSingleJSONDocumentContract(t *testing.T) {
	// Every generator must route its output through ConvertTo-Json.
	scripts := map[string]string{
		"ping":     Ping(),
		"registry": RegistryValue(`HKLM\SOFTWARE\X`, "Enabled"),
		"file":     FileInfo(`C:\Temp`),
		"service":  Service("Spooler", ""),
		"sysinfo":  SystemInfo(),
		"curuser":  CurrentUser(),
		"lastuser": LastUser(),
	}
	for name, script := range scripts {
		if !strings.Contains(script, "ConvertTo-Json") {
			t.Errorf("%s script does not emit JSON:\n%s", name, script)
		}
	}
}
