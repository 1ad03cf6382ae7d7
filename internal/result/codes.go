package result

import (
	"encoding/json"
	"sort"
)

// Code identifies the reason behind a result entry. The catalogue below is
// closed: downstream monitoring keys on the ID, so IDs never change meaning.
type Code struct {
	ID          string
	Name        string
	Description string
	Hint        string
}

// MarshalJSON emits only the identifier.
func (c Code) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ID)
}

func (c Code) String() string { return c.ID }

var catalogue = map[string]Code{}

func code(id, name, description, hint string) Code {
	c := Code{ID: id, Name: name, Description: description, Hint: hint}
	if _, dup := catalogue[id]; dup {
		panic("duplicate error code " + id)
	}
	catalogue[id] = c
	return c
}

// Lookup returns the catalogue entry for an identifier.
func Lookup(id string) (Code, bool) {
	c, ok := catalogue[id]
	return c, ok
}

// Catalogue returns every known code ordered by identifier.
func Catalogue() []Code {
	out := make([]Code, 0, len(catalogue))
	for _, c := range catalogue {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Core codes.
var (
	CodeUnspecified        = code("HC0000", "unspecified", "No specific code was given.", "")
	CodeRunningElsewhere   = code("HC0001", "test_running_elsewhere", "The test is being executed by another node.", "Check the output of the node holding the test lock.")
	CodeUnhandledException = code("HC0002", "unhandled_exception", "The check raised an unexpected error.", "Inspect the healthcheck log for the stack trace.")
	CodeCheckTimeout       = code("HC0003", "check_timeout", "The check did not finish within its deadline.", "Re-run the test; investigate slow remote services if it persists.")
	CodeAddonNotInstalled  = code("HC0004", "addon_not_installed", "The addon this test belongs to is not installed.", "")
	CodeHolderUnknown      = code("HC0005", "holder_unknown", "The test lock is held but its holder could not be identified.", "Verify the shared cache and re-run the test.")
)

// Consensus cluster codes.
var (
	CodeNodeUpToDate        = code("ARA0101", "node_up_to_date", "The node is up to date with the master.", "")
	CodeMasterBehind        = code("ARA0102", "master_behind", "The node is too many transactions behind the master.", "Verify network and disk latency of the lagging node.")
	CodeNodeCatchingUp      = code("ARA0103", "node_catching_up", "The node is catching up with the master.", "Wait for catch-up to complete.")
	CodeNodeMissing         = code("ARA0104", "node_missing", "A node of the cluster config is absent from the master statistics.", "Check whether the arakoon process runs on the missing node.")
	CodeMasterNone          = code("ARA0105", "master_none", "No master could be elected.", "Verify that a majority of the cluster nodes is running.")
	CodeStatisticsFailed    = code("ARA0106", "statistics_failed", "Master statistics could not be retrieved.", "")
	CodeArakoonPortOK       = code("ARA0201", "arakoon_port_ok", "The client port accepts connections.", "")
	CodeArakoonPortClosed   = code("ARA0202", "arakoon_port_closed", "The client port does not accept connections.", "Check the arakoon service and firewall on the node.")
	CodeArakoonPortError    = code("ARA0203", "arakoon_port_error", "The port probe itself failed.", "")
	CodeArakoonResponded    = code("ARA0301", "arakoon_responded", "The cluster answered a no-op request.", "")
	CodeArakoonDown         = code("ARA0302", "arakoon_down", "The cluster is not reachable.", "Check the arakoon services of the cluster.")
	CodeArakoonNoMaster     = code("ARA0303", "arakoon_no_master", "The cluster has no master.", "Verify that a majority of the cluster nodes is running.")
	CodeArakoonTimeout      = code("ARA0304", "arakoon_timeout", "The cluster did not answer within the deadline.", "")
	CodeArakoonUnhandled    = code("ARA0305", "arakoon_unhandled_exception", "The no-op request failed unexpectedly.", "")
	CodeArakoonFDOK         = code("ARA0401", "arakoon_fd_ok", "The number of TCP sockets is below the warning level.", "")
	CodeArakoonFD80         = code("ARA0402", "arakoon_fd_80", "The number of TCP sockets exceeds 80% of the limit.", "Look for clients leaking connections.")
	CodeArakoonFD95         = code("ARA0403", "arakoon_fd_95", "The number of TCP sockets exceeds 95% of the limit.", "Look for clients leaking connections.")
	CodeArakoonFDFailed     = code("ARA0404", "arakoon_fd_failed", "The sockets of the arakoon process could not be listed.", "")
	CodeCollapseOK          = code("ARA0501", "collapse_ok", "The tlogs were collapsed recently.", "")
	CodeCollapseNotOK       = code("ARA0502", "collapse_not_ok", "The tlogs were not collapsed in time.", "Run an arakoon collapse on the node.")
	CodeCollapseNotWorth    = code("ARA0503", "collapse_not_worth", "Too few closed tlogs to be worth collapsing.", "")
	CodeTlogNotFound        = code("ARA0504", "tlog_not_found", "No open tlog was found.", "Verify the tlog directory of the node.")
	CodeCollapseListFailed  = code("ARA0505", "collapse_list_failed", "The tlog directory could not be listed.", "")
	CodeArakoonConfigFailed = code("ARA0601", "arakoon_config_failed", "The cluster configuration could not be read.", "")
	CodeArakoonNoClusters   = code("ARA0602", "arakoon_no_clusters", "No arakoon clusters are registered.", "")
)

// Object storage codes.
var (
	CodeBackendOK             = code("ALB0101", "backend_ok", "The backend is available and all OSDs work.", "")
	CodeBackendOSDsBroken     = code("ALB0102", "backend_osds_broken", "The backend is available but some OSDs are defective.", "Replace or restart the defective OSDs.")
	CodeBackendNoOSDs         = code("ALB0103", "backend_no_osds", "The backend has no OSDs.", "")
	CodeBackendPresetUnmet    = code("ALB0104", "backend_preset_unmet", "The preset requirements of the backend are not satisfied.", "Claim additional OSDs.")
	CodeOSDPortMissing        = code("ALB0105", "osd_port_missing", "The OSD port is missing from the configuration registry.", "")
	CodeOSDOK                 = code("ALB0106", "osd_ok", "The OSD completed a set/get/delete round-trip.", "")
	CodeOSDBroken             = code("ALB0107", "osd_broken", "The OSD failed or was skipped.", "Inspect the OSD status and its disk.")
	CodeBackendListFailed     = code("ALB0108", "backend_list_failed", "The backends could not be listed.", "")
	CodeProxyOK               = code("ALB0201", "proxy_roundtrip_ok", "The proxy completed an object round-trip.", "")
	CodeProxyHashMismatch     = code("ALB0202", "proxy_hash_mismatch", "The downloaded object differs from the uploaded one.", "Investigate data corruption on the backend.")
	CodeProxyCreateNamespace  = code("ALB0203", "proxy_create_namespace_failed", "The proxy could not create a namespace.", "")
	CodeProxyShowNamespace    = code("ALB0204", "proxy_show_namespace_failed", "The namespace could not be inspected.", "")
	CodeProxyUpload           = code("ALB0205", "proxy_upload_failed", "The proxy could not upload an object.", "")
	CodeProxyDownload         = code("ALB0206", "proxy_download_failed", "The proxy could not download an object.", "")
	CodeProxyNamespaceTimeout = code("ALB0207", "proxy_namespace_timeout", "The namespace did not become ready in time.", "Check the OSDs of the preset.")
	CodeProxyCleanup          = code("ALB0208", "proxy_cleanup_failed", "Test namespaces could not be removed.", "Remove namespaces starting with ovs-healthcheck-ns manually.")
	CodeProxyNoPresets        = code("ALB0209", "proxy_no_presets", "No preset is in use.", "")
	CodeProxyConfig           = code("ALB0210", "proxy_config_failed", "The backing cluster of the proxy could not be determined.", "")
	CodeProxyMetadata         = code("ALB0211", "proxy_namespace_metadata_invalid", "The namespace metadata lacks required fields.", "")
	CodeNoProxies             = code("ALB0212", "no_proxies", "No proxy runs on this node.", "")
	CodeDiskSafetyOK          = code("ALB0301", "disk_safety_ok", "All data is at maximum safety.", "")
	CodeDiskSafetyWarning     = code("ALB0302", "disk_safety_warning", "Some data is below maximum safety.", "Let the maintenance process repair the data.")
	CodeDiskSafetyZero        = code("ALB0303", "disk_safety_error_zero", "Some data has zero safety left.", "Replace failed disks immediately.")
	CodeDiskSafetyBelowZero   = code("ALB0304", "disk_safety_error_below_zero", "Some data is below zero safety.", "Data loss may have occurred; contact support.")
	CodeDiskSafetyNoData      = code("ALB0305", "disk_safety_no_data", "No data is stored with this policy.", "")
	CodeDiskSafetyQueryFailed = code("ALB0306", "disk_safety_query_failed", "The disk safety could not be retrieved.", "")
	CodeNSMLoadOK             = code("ALB0401", "nsm_load_ok", "The namespace managers have capacity left.", "")
	CodeNSMLoadInternal       = code("ALB0402", "nsm_load_internal_high", "All internal namespace managers are overloaded.", "The framework will add capacity during its NSM checkup.")
	CodeNSMLoadExternal       = code("ALB0403", "nsm_load_external_high", "All external namespace managers are overloaded.", "Add namespace manager capacity manually.")
	CodeNSMLoadFailed         = code("ALB0404", "nsm_load_failed", "The namespace manager load could not be determined.", "")
	CodeNSMNone               = code("ALB0405", "nsm_none", "The backend has no namespace manager cluster.", "")
	CodeIPMIPowerOn           = code("ALB0501", "ipmi_power_on", "The storage node is powered on.", "")
	CodeIPMIPowerOff          = code("ALB0502", "ipmi_power_off", "The storage node is powered off.", "Power on the storage node.")
	CodeIPMINotConfigured     = code("ALB0503", "ipmi_not_configured", "No IPMI endpoint is configured.", "")
	CodeIPMIFailed            = code("ALB0504", "ipmi_failed", "The IPMI endpoint could not be queried.", "")
)

// Volume codes.
var (
	CodeDTLStandalone          = code("VOL0101", "dtl_standalone", "The volume runs without DTL.", "")
	CodeDTLOK                  = code("VOL0102", "dtl_ok", "The DTL is in sync.", "")
	CodeDTLDegraded            = code("VOL0103", "dtl_degraded", "The DTL is degraded.", "Verify the DTL target node.")
	CodeDTLCheckupRequired     = code("VOL0104", "dtl_checkup_required", "The DTL requires a checkup.", "The framework will run a DTL checkup.")
	CodeDTLCatchingUp          = code("VOL0105", "dtl_catching_up", "The DTL is catching up.", "")
	CodeDTLUnknown             = code("VOL0106", "dtl_unknown", "The DTL state is unknown.", "")
	CodeDTLListFailed          = code("VOL0107", "dtl_list_failed", "The volumes of a vpool could not be listed.", "")
	CodeVolumesNotHalted       = code("VOL0201", "volumes_not_halted", "No halted volumes.", "")
	CodeVolumeHalted           = code("VOL0202", "volume_halted", "Volumes owned by this node are halted.", "Restart the volumes.")
	CodeVolumeFencedHalted     = code("VOL0203", "volume_fenced_halted", "Fenced volumes are halted on their new owner.", "Restart the volumes on their owner.")
	CodeVolumeFencedOK         = code("VOL0204", "volume_fenced_ok", "Fenced volumes run on their new owner but linger here.", "Restart the local volume-driver to clean up.")
	CodeVolumeFencedNotFound   = code("VOL0205", "volume_fenced_not_found", "Fenced volumes no longer exist.", "")
	CodeVolumeFencedRedirect   = code("VOL0206", "volume_fenced_max_redirect", "Fenced volumes exceeded the redirect limit.", "")
	CodeVolumeFencedConnection = code("VOL0207", "volume_fenced_connection_fail", "The owner of fenced volumes could not be reached.", "")
	CodeHaltedListFailed       = code("VOL0208", "halted_list_failed", "Halted volumes could not be listed.", "")
	CodeVolumePotentialOK      = code("VOL0301", "volume_potential_ok", "Enough volumes can still be created.", "")
	CodeVolumePotentialLow     = code("VOL0302", "volume_potential_low", "Few volumes can still be created.", "Add capacity to the vpool.")
	CodeVolumePotentialZero    = code("VOL0303", "volume_potential_zero", "No volumes can be created anymore.", "Add capacity to the vpool.")
	CodeVolumePotentialFailed  = code("VOL0304", "volume_potential_failed", "The volume potential could not be retrieved.", "")
	CodeMountpointOnline       = code("VOL0401", "mountpoint_online", "The cache mountpoint is online.", "")
	CodeMountpointOffline      = code("VOL0402", "mountpoint_offline", "The cache mountpoint is offline.", "Replace the cache device.")
	CodeMountpointFailed       = code("VOL0403", "mountpoint_failed", "The cache mountpoints could not be queried.", "")
	CodeNoLocalVPools          = code("VOL0501", "no_local_vpools", "No vpool is served by this node.", "")
	CodeVPoolListFailed        = code("VOL0502", "vpool_list_failed", "The local vpools could not be determined.", "")
)

// Generic node codes.
var (
	CodeModelConsistent     = code("OVS0101", "model_consistent", "The model matches the volume-driver.", "")
	CodeModelNotInDriver    = code("OVS0102", "model_not_in_driver", "Volumes known to the model are unknown to the volume-driver.", "")
	CodeDriverNotInModel    = code("OVS0103", "driver_not_in_model", "Volumes known to the volume-driver are unknown to the model.", "")
	CodeModelQueryFailed    = code("OVS0104", "model_query_failed", "The volume lists could not be retrieved.", "")
	CodeBusNoPartitions     = code("OVS0201", "bus_no_partitions", "The message bus has no partitions.", "")
	CodeBusPartitions       = code("OVS0202", "bus_partitions", "The message bus is partitioned.", "Restart the partitioned RabbitMQ nodes.")
	CodeBusNotMaster        = code("OVS0203", "bus_not_master", "Message bus checks only run on master nodes.", "")
	CodeBusQueryFailed      = code("OVS0204", "bus_query_failed", "The message bus could not be queried.", "")
	CodeDomainsOK           = code("OVS0301", "domains_ok", "Recovery domains are consistent.", "")
	CodeRecoveryOrphan      = code("OVS0302", "recovery_domain_orphan", "A domain is used for recovery but never as primary.", "Assign the domain as primary to at least one node.")
	CodeDomainBothRoles     = code("OVS0303", "domain_primary_and_recovery", "A node uses a domain as both primary and recovery.", "")
	CodeLocalSettings       = code("OVS0401", "local_settings", "Local node settings.", "")
	CodePackageInstalled    = code("OVS0501", "package_installed", "The package is installed.", "")
	CodePackageMissing      = code("OVS0502", "package_missing", "The package is not installed.", "Install the package.")
	CodeServiceRunning      = code("OVS0601", "service_running", "The service is active.", "")
	CodeServiceNotRunning   = code("OVS0602", "service_not_running", "The service is not active.", "Start the service.")
	CodeLogSizeOK           = code("OVS0701", "log_size_ok", "The log file is within limits.", "")
	CodeLogSizeTooBig       = code("OVS0702", "log_size_too_big", "The log file is too large.", "Check the log rotation configuration.")
	CodeDirPermissionsOK    = code("OVS0801", "dir_permissions_ok", "The directory permissions are correct.", "")
	CodeDirPermissionsWrong = code("OVS0802", "dir_permissions_wrong", "The directory permissions are incorrect.", "Restore the expected owner and mode.")
	CodeDirMissing          = code("OVS0803", "dir_missing", "The directory does not exist.", "")
	CodeDNSOK               = code("OVS0901", "dns_ok", "Name resolution works.", "")
	CodeDNSFailed           = code("OVS0902", "dns_failed", "Name resolution failed.", "Check /etc/resolv.conf.")
	CodeNoZombies           = code("OVS1001", "no_zombie_processes", "No zombie or dead processes.", "")
	CodeZombieProcesses     = code("OVS1002", "zombie_processes", "Zombie processes were found.", "")
	CodeDeadProcesses       = code("OVS1003", "dead_processes", "Dead processes were found.", "")
	CodePortListening       = code("OVS1101", "port_listening", "The port accepts connections.", "")
	CodePortClosed          = code("OVS1102", "port_closed", "The port does not accept connections.", "Check the service owning the port.")
	CodePortOutOfRange      = code("OVS1103", "port_out_of_range", "The port lies outside the configured range.", "")
	CodeCeleryOK            = code("OVS1201", "celery_ok", "The task workers answered.", "")
	CodeCeleryUnreachable   = code("OVS1202", "celery_unreachable", "The task workers did not answer in time.", "Restart the workers.")
)
