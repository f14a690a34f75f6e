package pruning

// allowedKeys are the sidecar fields kept by the pruning pass.
var allowedKeys = map[string]struct{}{}

func init() {
	for _, k := range []string{
		"AcquisitionDuration", "AcquisitionTime", "AnatomicalLandmarkCoordinates",
		"CogAtlasID", "CogPOID", "CoilCombinationMethod", "ConversionSoftware",
		"ConversionSoftwareVersion", "DelayAfterTrigger", "DelayTime",
		"DeviceSerialNumber", "DwellTime", "EchoNumbers", "EchoTime",
		"EchoTime1", "EchoTime2", "EchoTrainLength", "EffectiveEchoSpacing",
		"FlipAngle", "GradientSetType", "HighBit", "ImageType",
		"ImagedNucleus", "ImagingFrequency", "InPlanePhaseEncodingDirection",
		"InstitutionAddress", "InstitutionName", "InstitutionalDepartmentName",
		"Instructions", "IntendedFor", "InversionTime", "MRAcquisitionType",
		"MRTransmitCoilSequence", "MagneticFieldStrength", "Manufacturer",
		"ManufacturersModelName", "MatrixCoilMode", "Modality",
		"MultibandAccelerationFactor", "NumberOfAverages",
		"NumberOfPhaseEncodingSteps", "NumberOfVolumesDiscardedByScanner",
		"NumberOfVolumesDiscardedByUser", "NumberShots",
		"ParallelAcquisitionTechnique", "ParallelReductionFactorInPlane",
		"PartialFourier", "PartialFourierDirection", "PhaseEncodingDirection",
		"PixelBandwidth", "ProtocolName", "PulseSequenceDetails",
		"PulseSequenceType", "ReceiveCoilActiveElements", "ReceiveCoilName",
		"RepetitionTime", "Rows", "SAR", "ScanOptions", "ScanningSequence",
		"SequenceName", "SequenceVariant", "SeriesDescription", "SeriesNumber",
		"SliceEncodingDirection", "SliceLocation", "SliceThickness",
		"SliceTiming", "SoftwareVersions", "SpacingBetweenSlices",
		"StationName", "TaskDescription", "TaskName", "TotalReadoutTime",
		"Units", "VolumeTiming",
	} {
		allowedKeys[k] = struct{}{}
	}
}

// Allowed reports whether key survives pruning.
func Allowed(key string) bool {
	_, ok := allowedKeys[key]
	return ok
}

// AllowedKeys returns a copy of the allow-list.
func AllowedKeys() []string {
	keys := make([]string, 0, len(allowedKeys))
	for k := range allowedKeys {
		keys = append(keys, k)
	}
	return keys
}
