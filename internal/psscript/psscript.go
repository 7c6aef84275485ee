// Package psscript generates the PowerShell scripts dispatched to remote
// hosts. Every generated script prints exactly one JSON document to stdout,
// whether or not the probed thing exists, so the evaluator can always
// attempt a parse.
package psscript

import (
	"fmt"
	"strings"

	"github.com/osbits/winfleet/internal/registrypath"
)

// EscapeSingleQuoted escapes a value for interpolation into a PowerShell
// single-quoted string literal, where '' is a literal quote.
func EscapeSingleQuoted(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// Ping reports that remote execution works. It intentionally does not ICMP
// anything: success means the remote management channel itself is healthy.
func Ping() string {
	return `@{
  reachable = $true
  computerName = $env:COMPUTERNAME
  timestamp = (Get-Date).ToString('o')
} | ConvertTo-Json`
}

// RegistryKey probes for the existence of a registry key.
func RegistryKey(path string) string {
	stored := registrypath.Normalize(path)
	provider := registrypath.ToProviderPath(stored)
	return fmt.Sprintf(`$p = '%s'
$stored = '%s'
@{ path = $stored; exists = (Test-Path -Path $p) } | ConvertTo-Json`,
		EscapeSingleQuoted(provider), EscapeSingleQuoted(stored))
}

// RegistryValue probes a named registry value. Hive-rooted paths are read
// through the Microsoft.Win32.Registry API so value kind and CLR type are
// reported; anything else falls back to a provider key-path lookup.
func RegistryValue(path, valueName string) string {
	stored := registrypath.Normalize(path)
	provider := registrypath.ToProviderPath(stored)
	name := registrypath.NormalizeValueName(valueName)
	if name == "" {
		return RegistryKey(path)
	}
	return fmt.Sprintf(`$p = '%s'
$stored = '%s'
$n = '%s'
function Get-RegistryBaseKey([string]$hive) {
  switch ($hive.ToUpperInvariant()) {
    'HKEY_LOCAL_MACHINE' { return [Microsoft.Win32.Registry]::LocalMachine }
    'HKEY_CURRENT_USER' { return [Microsoft.Win32.Registry]::CurrentUser }
    'HKEY_CLASSES_ROOT' { return [Microsoft.Win32.Registry]::ClassesRoot }
    'HKEY_USERS' { return [Microsoft.Win32.Registry]::Users }
    'HKEY_CURRENT_CONFIG' { return [Microsoft.Win32.Registry]::CurrentConfig }
    default { return $null }
  }
}
try {
  if ($stored -match '^(HKEY_[A-Z_]+)\\(.*)$') {
    $hive = $Matches[1]
    $subKey = $Matches[2]
    $base = Get-RegistryBaseKey $hive
    if ($null -eq $base) {
      @{ path = $stored; valueName = $n; exists = $false; error = "Unsupported hive: $hive" } | ConvertTo-Json
    } else {
      $key = $base.OpenSubKey($subKey)
      if ($null -eq $key) {
        @{ path = $stored; valueName = $n; exists = $false } | ConvertTo-Json
      } else {
        $val = $key.GetValue($n, $null)
        if ($null -eq $val) {
          @{ path = $stored; valueName = $n; exists = $false } | ConvertTo-Json
        } else {
          $kind = $key.GetValueKind($n).ToString()
          $type = $val.GetType().FullName
          @{ path = $stored; valueName = $n; exists = $true; value = $val; valueKind = $kind; valueType = $type } | ConvertTo-Json -Depth 10
        }
        $key.Close() | Out-Null
      }
    }
  } else {
    if (Test-Path -Path $p) {
      try {
        $item = Get-ItemProperty -Path $p -Name $n -ErrorAction Stop
        $val = $item.$n
        $type = $null
        if ($null -ne $val) { $type = $val.GetType().FullName }
        @{ path = $stored; valueName = $n; exists = $true; value = $val; valueType = $type } | ConvertTo-Json -Depth 10
      } catch {
        @{ path = $stored; valueName = $n; exists = $false } | ConvertTo-Json
      }
    } else {
      @{ path = $stored; valueName = $n; exists = $false } | ConvertTo-Json
    }
  }
} catch {
  @{ path = $stored; valueName = $n; exists = $false; error = $_.Exception.Message } | ConvertTo-Json
}`,
		EscapeSingleQuoted(provider), EscapeSingleQuoted(stored), EscapeSingleQuoted(name))
}

// FileInfo probes a file or directory path.
func FileInfo(path string) string {
	p := EscapeSingleQuoted(path)
	return fmt.Sprintf(`if (Test-Path -Path '%[1]s') {
  $file = Get-Item -Path '%[1]s'
  $isDirectory = $file.PSIsContainer
  $sizeBytes = $null
  if (-not $isDirectory -and $file -is [System.IO.FileInfo]) {
    $sizeBytes = $file.Length
  }
  @{
    path = '%[1]s'
    exists = $true
    name = $file.Name
    fullPath = $file.FullName
    isDirectory = $isDirectory
    sizeBytes = $sizeBytes
    createdTime = $file.CreationTime.ToString('o')
    modifiedTime = $file.LastWriteTime.ToString('o')
    isReadOnly = $file.IsReadOnly
    attributes = $file.Attributes.ToString()
  } | ConvertTo-Json
} else {
  @{ path = '%[1]s'; exists = $false } | ConvertTo-Json
}`, p)
}

// Service looks a Windows service up by exact name first, then by a
// case-insensitive substring match of the executable path against each
// service's command line.
func Service(serviceName, executablePath string) string {
	name := EscapeSingleQuoted(strings.TrimSpace(serviceName))
	execPath := EscapeSingleQuoted(strings.TrimSpace(executablePath))
	return fmt.Sprintf(`$name = '%s'
$execPath = '%s'
try {
  $svc = $null
  $matchedBy = $null
  if ($name) {
    $svc = Get-CimInstance Win32_Service -Filter "Name='$name'" -ErrorAction SilentlyContinue | Select-Object -First 1
    if ($svc) { $matchedBy = 'serviceName' }
  }
  if (-not $svc -and $execPath) {
    $needle = $execPath.ToLowerInvariant()
    $svc = Get-CimInstance Win32_Service -ErrorAction SilentlyContinue |
      Where-Object { $_.PathName -and $_.PathName.ToLowerInvariant().Contains($needle) } |
      Select-Object -First 1
    if ($svc) { $matchedBy = 'executablePath' }
  }
  if ($svc) {
    @{
      query = @{ serviceName = $name; executablePath = $execPath }
      exists = $true
      matchedBy = $matchedBy
      name = $svc.Name
      displayName = $svc.DisplayName
      state = $svc.State
      startMode = $svc.StartMode
      pathName = $svc.PathName
      processId = $svc.ProcessId
    } | ConvertTo-Json
  } else {
    @{ query = @{ serviceName = $name; executablePath = $execPath }; exists = $false } | ConvertTo-Json
  }
} catch {
  @{ query = @{ serviceName = $name; executablePath = $execPath }; exists = $false; error = $_.Exception.Message } | ConvertTo-Json
}`, name, execPath)
}

// SystemInfo collects basic hardware and OS details.
func SystemInfo() string {
	return `$os = Get-CimInstance Win32_OperatingSystem
$cs = Get-CimInstance Win32_ComputerSystem
$lastBoot = $os.LastBootUpTime
@{
  ComputerName = $cs.Name
  Manufacturer = $cs.Manufacturer
  Model = $cs.Model
  TotalMemoryGB = [math]::Round($cs.TotalPhysicalMemory / 1GB, 2)
  OSVersion = $os.Caption
  OSArchitecture = $os.OSArchitecture
  LastBootTime = $lastBoot.ToString('o')
  UptimeDays = [math]::Round(((Get-Date) - $lastBoot).TotalDays, 2)
} | ConvertTo-Json`
}

// CurrentUser prefers the interactive logon reported by Win32_ComputerSystem,
// falls back to the quser session table, and reports NoUserLoggedIn when
// neither yields a username.
func CurrentUser() string {
	return `$cs = Get-CimInstance Win32_ComputerSystem -ErrorAction SilentlyContinue
if ($cs -and $cs.UserName) {
  @{ Username = $cs.UserName } | ConvertTo-Json
} else {
  $users = quser 2>&1
  if ($LASTEXITCODE -eq 0) {
    $users | Select-Object -Skip 1 | ForEach-Object {
      $line = $_ -replace '\s+', ','
      $parts = $line -split ','
      @{
        Username = $parts[0]
        SessionName = $parts[1]
        ID = $parts[2]
        State = $parts[3]
        IdleTime = $parts[4]
        LogonTime = $parts[5..$parts.Length] -join ' '
      }
    } | ConvertTo-Json
  } else {
    @{ NoUserLoggedIn = $true } | ConvertTo-Json
  }
}`
}

// LastUser reads the last logged-on user from the LogonUI registry key.
func LastUser() string {
	return `$lastUser = Get-ItemProperty -Path 'HKLM:\SOFTWARE\Microsoft\Windows\CurrentVersion\Authentication\LogonUI' -Name 'LastLoggedOnUser' -ErrorAction SilentlyContinue
if ($lastUser) {
  @{ LastUser = $lastUser.LastLoggedOnUser } | ConvertTo-Json
} else {
  @{ LastUser = 'Unknown' } | ConvertTo-Json
}`
}
